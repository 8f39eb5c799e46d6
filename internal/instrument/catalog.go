package instrument

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/atmx/portfolio-engine/internal/model"
	"github.com/atmx/portfolio-engine/internal/money"
)

// catalogFile is the on-disk layout of an instrument catalog. Numbers are
// kept as strings so no value passes through float64.
type catalogFile struct {
	Instruments []catalogEntry `yaml:"instruments"`
}

type catalogEntry struct {
	ID             string `yaml:"id"`
	AssetClass     string `yaml:"asset_class"`
	Base           string `yaml:"base"`
	Quote          string `yaml:"quote"`
	Inverse        bool   `yaml:"inverse"`
	Multiplier     string `yaml:"multiplier"`
	PricePrecision int32  `yaml:"price_precision"`
	SizePrecision  int32  `yaml:"size_precision"`
	Margin         struct {
		Kind    string `yaml:"kind"`
		Initial string `yaml:"initial"`
		Maint   string `yaml:"maint"`
	} `yaml:"margin"`
}

// LoadFile reads a YAML catalog from path into reg.
func LoadFile(reg *Registry, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()
	return LoadYAML(reg, f)
}

// LoadYAML decodes a catalog and registers every entry. It stops at the
// first invalid entry and returns how many were registered before it.
func LoadYAML(reg *Registry, r io.Reader) (int, error) {
	var file catalogFile
	if err := yaml.NewDecoder(r).Decode(&file); err != nil && err != io.EOF {
		return 0, fmt.Errorf("decode catalog: %w", err)
	}

	for n, e := range file.Instruments {
		inst, err := e.instrument()
		if err != nil {
			return n, err
		}
		if err := reg.Add(inst); err != nil {
			return n, err
		}
	}
	return len(file.Instruments), nil
}

func (e catalogEntry) instrument() (Instrument, error) {
	id, err := model.ParseInstrumentID(e.ID)
	if err != nil {
		return Instrument{}, err
	}

	inst := Instrument{
		ID:             id,
		AssetClass:     AssetClass(strings.ToUpper(e.AssetClass)),
		Inverse:        e.Inverse,
		Multiplier:     decimal.NewFromInt(1),
		PricePrecision: e.PricePrecision,
		SizePrecision:  e.SizePrecision,
	}

	if inst.QuoteCurrency, err = money.ParseCurrency(e.Quote); err != nil {
		return Instrument{}, fmt.Errorf("%w: %s: %v", ErrInvalidInstrument, e.ID, err)
	}
	if e.Base != "" {
		if inst.BaseCurrency, err = money.ParseCurrency(e.Base); err != nil {
			return Instrument{}, fmt.Errorf("%w: %s: %v", ErrInvalidInstrument, e.ID, err)
		}
	}
	if e.Multiplier != "" {
		if inst.Multiplier, err = decimal.NewFromString(e.Multiplier); err != nil {
			return Instrument{}, fmt.Errorf("%w: %s: multiplier %q", ErrInvalidInstrument, e.ID, e.Multiplier)
		}
	}

	switch MarginKind(strings.ToUpper(e.Margin.Kind)) {
	case MarginLiability:
		inst.Margin = LiabilityMargin()
	case MarginNotional, "":
		initial, err := parseRate(e.Margin.Initial)
		if err != nil {
			return Instrument{}, fmt.Errorf("%w: %s: initial rate: %v", ErrInvalidInstrument, e.ID, err)
		}
		maint, err := parseRate(e.Margin.Maint)
		if err != nil {
			return Instrument{}, fmt.Errorf("%w: %s: maint rate: %v", ErrInvalidInstrument, e.ID, err)
		}
		inst.Margin = NotionalMargin(initial, maint)
	default:
		return Instrument{}, fmt.Errorf("%w: %s: unknown margin kind %q", ErrInvalidInstrument, e.ID, e.Margin.Kind)
	}
	return inst, nil
}

func parseRate(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}
