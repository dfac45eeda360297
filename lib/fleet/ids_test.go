package fleet

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStableID(t *testing.T) {
	tests := []struct {
		stack, name, want string
	}{
		{"My Stack!", "Cont@iner#1", "my_stack_cont_iner_1"},
		{"", "web", "no_stack_web"},
		{"media", "", "media_container"},
		{"_no_stack", "grafana", "no_stack_grafana"},
		{"__a__", "__b__", "a_b"},
		{"Über", "Ñame", "über_ñame"},
	}
	for _, tt := range tests {
		t.Run(tt.stack+"/"+tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StableID(tt.stack, tt.name))
		})
	}
}

func TestSlug(t *testing.T) {
	tests := []struct {
		name, shortID, want string
	}{
		{"Home-Assistant", "abc123def456", "home_assistant_abc123def456"},
		{"__web__", "0123456789ab", "web_0123456789ab"},
		{"", "0123456789ab", "container_0123456789ab"},
		{"---", "0123456789ab", "container_0123456789ab"},
		{"a..b", "x", "a__b_x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Slug(tt.name, tt.shortID))
		})
	}
}

func TestContainerIdentity(t *testing.T) {
	c := Container{Name: "Web", Stack: "Site", ShortID: "0123456789ab"}
	assert.Equal(t, "site_web", c.StableID())
	assert.Equal(t, "web_0123456789ab", c.Slug())
}
