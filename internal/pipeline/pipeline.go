package pipeline

import (
	"errors"
	"fmt"

	"github.com/MeKo-Tech/labelscan/internal/barcode"
	"github.com/MeKo-Tech/labelscan/internal/layout"
	"github.com/MeKo-Tech/labelscan/internal/utils"
)

// Config holds configuration for the analysis pipeline and its stages.
type Config struct {
	OrderPolicy layout.OrderPolicy
	ExtentMode  layout.ExtentMode
	Barcode     BarcodeConfig
	Overlay     OverlayConfig
	Constraints utils.ImageConstraints

	// AnnotateOnAnalyze renders the overlay as part of Analyze.
	AnnotateOnAnalyze bool
}

// DefaultConfig returns a default pipeline config with stage defaults.
func DefaultConfig() Config {
	return Config{
		OrderPolicy:       layout.DefaultOrderPolicy,
		ExtentMode:        layout.DefaultExtentMode,
		Barcode:           DefaultBarcodeConfig(),
		Overlay:           DefaultOverlayConfig(),
		Constraints:       utils.DefaultImageConstraints(),
		AnnotateOnAnalyze: true,
	}
}

// Builder constructs a Pipeline with fluent configuration.
type Builder struct {
	cfg     Config
	decoder Decoder
}

// NewBuilder creates a new pipeline builder with defaults.
func NewBuilder() *Builder { return &Builder{cfg: DefaultConfig()} }

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.cfg = cfg
	return b
}

// WithOrderPolicy selects the reading-order policy.
func (b *Builder) WithOrderPolicy(p layout.OrderPolicy) *Builder {
	b.cfg.OrderPolicy = p
	return b
}

// WithExtentMode selects how the normalization extent is spanned.
func (b *Builder) WithExtentMode(m layout.ExtentMode) *Builder {
	b.cfg.ExtentMode = m
	return b
}

// WithBarcodeFormats restricts decoding to the named symbologies.
func (b *Builder) WithBarcodeFormats(formats []string) *Builder {
	if len(formats) > 0 {
		b.cfg.Barcode.Formats = formats
	}
	return b
}

// WithTryHarder toggles the slower, more exhaustive decoder search.
func (b *Builder) WithTryHarder(enabled bool) *Builder {
	b.cfg.Barcode.TryHarder = enabled
	return b
}

// WithOverlay sets the annotation style.
func (b *Builder) WithOverlay(o OverlayConfig) *Builder {
	b.cfg.Overlay = o
	return b
}

// WithAnnotation toggles rendering the overlay during Analyze.
func (b *Builder) WithAnnotation(enabled bool) *Builder {
	b.cfg.AnnotateOnAnalyze = enabled
	return b
}

// WithDecoder overrides the detection adapter, mainly for tests.
func (b *Builder) WithDecoder(d Decoder) *Builder {
	b.decoder = d
	return b
}

// Config returns a copy of the current config.
func (b *Builder) Config() Config { return b.cfg }

// Validate checks that the configuration is usable.
func (b *Builder) Validate() error {
	switch b.cfg.OrderPolicy {
	case layout.TopToBottom, layout.LeftToRight:
	default:
		return fmt.Errorf("invalid order policy %v", b.cfg.OrderPolicy)
	}
	switch b.cfg.ExtentMode {
	case layout.ExtentOrigins, layout.ExtentBounds:
	default:
		return fmt.Errorf("invalid extent mode %v", b.cfg.ExtentMode)
	}
	if _, err := barcode.ParseFormats(b.cfg.Barcode.Formats); err != nil {
		return err
	}
	if _, err := b.cfg.Overlay.Style(); err != nil {
		return fmt.Errorf("overlay: %w", err)
	}
	if b.cfg.Constraints.MaxWidth < 0 || b.cfg.Constraints.MaxHeight < 0 {
		return errors.New("image constraints must not be negative")
	}
	return nil
}

// Pipeline wires the detection adapter to the layout stages.
type Pipeline struct {
	cfg     Config
	style   OverlayStyle
	decoder Decoder
}

// Build validates the configuration and initializes the decoder.
func (b *Builder) Build() (*Pipeline, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	style, err := b.cfg.Overlay.Style()
	if err != nil {
		return nil, err
	}
	dec := b.decoder
	if dec == nil {
		dec, err = newBarcodeDecoder(b.cfg.Barcode)
		if err != nil {
			return nil, fmt.Errorf("init barcode decoder: %w", err)
		}
	}
	return &Pipeline{cfg: b.cfg, style: style, decoder: dec}, nil
}

// Close releases resources held by the pipeline.
func (p *Pipeline) Close() error { return nil }

// Config returns the pipeline configuration.
func (p *Pipeline) Config() Config { return p.cfg }

// Info returns a map with key pipeline properties.
func (p *Pipeline) Info() map[string]interface{} {
	formats := p.cfg.Barcode.Formats
	if len(formats) == 0 {
		formats = []string{"all"}
	}
	return map[string]interface{}{
		"order_policy": p.cfg.OrderPolicy.String(),
		"extent_mode":  p.cfg.ExtentMode.String(),
		"barcode": map[string]interface{}{
			"formats":    formats,
			"try_harder": p.cfg.Barcode.TryHarder,
			"multi":      p.cfg.Barcode.Multi,
		},
		"annotate": p.cfg.AnnotateOnAnalyze,
	}
}
