package updates

import (
	"bytes"
	"context"
	"fmt"
	"maps"
	"runtime"

	"github.com/d2ha/d2ha/lib/docker"
	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/remote"
)

// Resolver names accepted by NewResolver.
const (
	ResolverEngine   = "engine"
	ResolverRegistry = "registry"
)

// Resolver reports the current upstream digest of an image reference.
type Resolver interface {
	Resolve(ctx context.Context, ref string) (*Descriptor, error)
}

// NewResolver returns the resolver registered under kind.
func NewResolver(kind string, engine docker.Engine, insecure bool) (Resolver, error) {
	switch kind {
	case "", ResolverEngine:
		return &EngineResolver{engine: engine}, nil
	case ResolverRegistry:
		return NewRegistryResolver(insecure), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownResolver, kind)
	}
}

// EngineResolver asks the Docker engine to inspect the distribution manifest,
// reusing the engine's registry credentials.
type EngineResolver struct {
	engine docker.Engine
}

// NewEngineResolver creates an EngineResolver.
func NewEngineResolver(engine docker.Engine) *EngineResolver {
	return &EngineResolver{engine: engine}
}

func (r *EngineResolver) Resolve(ctx context.Context, ref string) (*Descriptor, error) {
	dist, err := r.engine.DistributionInspect(ctx, ref, "")
	if err != nil {
		return nil, fmt.Errorf("inspect distribution %s: %w", ref, err)
	}
	return &Descriptor{
		Digest:      dist.Descriptor.Digest.String(),
		Annotations: dist.Descriptor.Annotations,
	}, nil
}

// RegistryResolver talks to the registry directly with credentials from the
// local Docker config. Annotations of the manifest are merged over the image
// config labels.
type RegistryResolver struct {
	nameOpts []name.Option
	platform v1.Platform
}

// NewRegistryResolver creates a RegistryResolver for the host platform.
// insecure allows plain HTTP registries.
func NewRegistryResolver(insecure bool) *RegistryResolver {
	r := &RegistryResolver{
		platform: v1.Platform{OS: "linux", Architecture: runtime.GOARCH},
	}
	if insecure {
		r.nameOpts = append(r.nameOpts, name.Insecure)
	}
	return r
}

func (r *RegistryResolver) Resolve(ctx context.Context, ref string) (*Descriptor, error) {
	parsed, err := name.ParseReference(ref, r.nameOpts...)
	if err != nil {
		return nil, fmt.Errorf("parse reference %s: %w", ref, err)
	}

	opts := []remote.Option{
		remote.WithContext(ctx),
		remote.WithAuthFromKeychain(authn.DefaultKeychain),
		remote.WithPlatform(r.platform),
	}
	desc, err := remote.Get(parsed, opts...)
	if err != nil {
		return nil, fmt.Errorf("get manifest %s: %w", ref, err)
	}

	annotations := map[string]string{}
	if img, err := desc.Image(); err == nil {
		if cfg, err := img.ConfigFile(); err == nil && cfg != nil {
			maps.Copy(annotations, cfg.Config.Labels)
		}
	}
	maps.Copy(annotations, manifestAnnotations(desc))
	maps.Copy(annotations, desc.Annotations)

	return &Descriptor{
		Digest:      desc.Digest.String(),
		Annotations: annotations,
	}, nil
}

func manifestAnnotations(desc *remote.Descriptor) map[string]string {
	switch {
	case desc.MediaType.IsIndex():
		idx, err := v1.ParseIndexManifest(bytes.NewReader(desc.Manifest))
		if err != nil {
			return nil
		}
		return idx.Annotations
	case desc.MediaType.IsImage():
		m, err := v1.ParseManifest(bytes.NewReader(desc.Manifest))
		if err != nil {
			return nil
		}
		return m.Annotations
	}
	return nil
}
