package domain

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// RiskLevel is the user-declared riskiness of a strategy.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMiddle RiskLevel = "middle"
	RiskHigh   RiskLevel = "high"
)

var (
	codeNamePattern = regexp.MustCompile(`^[A-Z]{6}$`)
	versionPattern  = regexp.MustCompile(`^\d+\.\d+$`)
)

// Strategy is a user-authored pair of scripts plus its metadata. The
// indicators script builds series aligned to the candle index; the
// decision script turns the latest row into orders.
type Strategy struct {
	CodeName         string    `json:"code_name"`
	ReadableName     string    `json:"readable_name"`
	Version          string    `json:"version"`
	Description      string    `json:"description"`
	RiskLevel        RiskLevel `json:"risk_level"`
	ParallelChunkDays *uint32  `json:"parallel_simulation_chunk_days,omitempty"`
	IndicatorsScript string    `json:"indicators_script"`
	DecisionScript   string    `json:"decision_script"`
}

// Validate checks the code-name and version formats.
func (s Strategy) Validate() error {
	if !codeNamePattern.MatchString(s.CodeName) {
		return errors.Errorf("strategy code name %q must match [A-Z]{6}", s.CodeName)
	}
	if !versionPattern.MatchString(s.Version) {
		return errors.Errorf("strategy version %q must match \\d+.\\d+", s.Version)
	}
	switch s.RiskLevel {
	case RiskLow, RiskMiddle, RiskHigh:
	default:
		return errors.Errorf("unknown risk level %q", s.RiskLevel)
	}
	return nil
}

// CompareVersions orders two \d+.\d+ version strings.
func CompareVersions(a, b string) int {
	pa := strings.SplitN(a, ".", 2)
	pb := strings.SplitN(b, ".", 2)
	aMaj, _ := strconv.Atoi(pa[0])
	bMaj, _ := strconv.Atoi(pb[0])
	if aMaj != bMaj {
		if aMaj < bMaj {
			return -1
		}
		return 1
	}
	aMin, bMin := 0, 0
	if len(pa) == 2 {
		aMin, _ = strconv.Atoi(pa[1])
	}
	if len(pb) == 2 {
		bMin, _ = strconv.Atoi(pb[1])
	}
	switch {
	case aMin < bMin:
		return -1
	case aMin > bMin:
		return 1
	}
	return 0
}

// IndicatorCategory groups indicator lines for presentation.
type IndicatorCategory string

const (
	CategoryPrice    IndicatorCategory = "price"
	CategoryVolume   IndicatorCategory = "volume"
	CategoryAbstract IndicatorCategory = "abstract"
)

// IndicatorKey addresses one indicator series. The label may carry a
// "(color)" substring controlling line color in the GUI.
type IndicatorKey struct {
	Symbol   string            `json:"symbol"`
	Category IndicatorCategory `json:"category"`
	Label    string            `json:"label"`
}

// IndicatorSet is the output of one indicators-script run: f32 series
// aligned to the candle index.
type IndicatorSet map[IndicatorKey][]float32
