package services

import (
	_ "embed"
	"fmt"
	"math"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	types "github.com/yungbote/dubbing-backend/internal/domain"
)

//go:embed pricing.yaml
var defaultPriceTable []byte

type ServicePrice struct {
	PerMinutePerLanguage int64 `yaml:"per_minute_per_language"`
	VoiceClonePerMinute  int64 `yaml:"voice_clone_per_minute"`
	LipSyncPerMinute     int64 `yaml:"lip_sync_per_minute"`
	Flat                 int64 `yaml:"flat"`
}

type CreditPackage struct {
	Credits    int64  `yaml:"credits"`
	PriceCents int64  `yaml:"price_cents"`
	Currency   string `yaml:"currency"`
}

type PriceTable struct {
	Version       int                               `yaml:"version"`
	MinimumCharge int64                             `yaml:"minimum_charge"`
	Services      map[types.JobService]ServicePrice `yaml:"services"`
	Packages      map[string]CreditPackage          `yaml:"packages"`
}

// LoadPriceTable reads the YAML table at path, or the embedded default when
// path is empty.
func LoadPriceTable(path string) (PriceTable, error) {
	raw := defaultPriceTable
	if p := strings.TrimSpace(path); p != "" {
		b, err := os.ReadFile(p)
		if err != nil {
			return PriceTable{}, fmt.Errorf("read price table: %w", err)
		}
		raw = b
	}
	return ParsePriceTable(raw)
}

func ParsePriceTable(raw []byte) (PriceTable, error) {
	var t PriceTable
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return PriceTable{}, fmt.Errorf("parse price table: %w", err)
	}
	if t.MinimumCharge < 0 {
		return PriceTable{}, fmt.Errorf("price table: negative minimum_charge")
	}
	for svc, p := range t.Services {
		if !svc.Valid() {
			return PriceTable{}, fmt.Errorf("price table: unknown service %q", svc)
		}
		if p.PerMinutePerLanguage < 0 || p.VoiceClonePerMinute < 0 || p.LipSyncPerMinute < 0 || p.Flat < 0 {
			return PriceTable{}, fmt.Errorf("price table: negative price for %s", svc)
		}
	}
	for id, pkg := range t.Packages {
		if pkg.Credits <= 0 || pkg.PriceCents < 0 {
			return PriceTable{}, fmt.Errorf("price table: invalid package %q", id)
		}
	}
	return t, nil
}

// MaxDurationSeconds bounds a billable source. Longer media is refused
// rather than priced.
const MaxDurationSeconds = 6 * 60 * 60

// SubmitRequest is what a user asks to have processed.
type SubmitRequest struct {
	Service         types.JobService  `json:"service"`
	SourceURL       string            `json:"source_url"`
	Languages       []string          `json:"languages"`
	DurationSeconds float64           `json:"duration_seconds"`
	VoiceClone      bool              `json:"voice_clone"`
	VoicePreference string            `json:"voice_preference,omitempty"`
	LipSync         bool              `json:"lip_sync"`
	StartSeconds    *float64          `json:"start_seconds,omitempty"`
	EndSeconds      *float64          `json:"end_seconds,omitempty"`
	Dictionary      map[string]string `json:"dictionary,omitempty"`
	Prompt          string            `json:"prompt,omitempty"`
}

// Pricer computes job cost from request parameters only. The same inputs
// always produce the same cost, so an estimate matches the later charge.
type Pricer struct {
	table PriceTable
}

func NewPricer(table PriceTable) *Pricer {
	return &Pricer{table: table}
}

func (p *Pricer) Table() PriceTable { return p.table }

func (p *Pricer) Cost(req SubmitRequest) (int64, error) {
	if err := ValidateRequest(req); err != nil {
		return 0, err
	}
	price, ok := p.table.Services[req.Service]
	if !ok {
		return 0, invalidf("service %q is not priced", req.Service)
	}
	if price.Flat > 0 {
		return price.Flat, nil
	}

	minutes := billableMinutes(req)
	langs := int64(len(req.Languages))
	cost, ok := mulCredits(minutes, langs, price.PerMinutePerLanguage)
	if req.VoiceClone {
		extra, ok2 := mulCredits(minutes, price.VoiceClonePerMinute)
		cost, ok = addCredits(cost, extra, ok && ok2)
	}
	if req.LipSync {
		extra, ok2 := mulCredits(minutes, price.LipSyncPerMinute)
		cost, ok = addCredits(cost, extra, ok && ok2)
	}
	if !ok {
		return 0, invalidf("request cost is out of range")
	}
	if cost < p.table.MinimumCharge {
		cost = p.table.MinimumCharge
	}
	return cost, nil
}

// billableMinutes rounds the processed span up to whole minutes.
func billableMinutes(req SubmitRequest) int64 {
	seconds := req.DurationSeconds
	if req.StartSeconds != nil || req.EndSeconds != nil {
		start, end := 0.0, req.DurationSeconds
		if req.StartSeconds != nil {
			start = *req.StartSeconds
		}
		if req.EndSeconds != nil {
			end = *req.EndSeconds
		}
		seconds = end - start
	}
	whole := int64(math.Ceil(seconds))
	minutes := (whole + 59) / 60
	if minutes < 1 {
		minutes = 1
	}
	return minutes
}

// mulCredits multiplies non-negative factors, reporting false on overflow.
func mulCredits(factors ...int64) (int64, bool) {
	out := int64(1)
	for _, f := range factors {
		if f < 0 {
			return 0, false
		}
		if f != 0 && out > math.MaxInt64/f {
			return 0, false
		}
		out *= f
	}
	return out, true
}

func addCredits(a, b int64, ok bool) (int64, bool) {
	if !ok || a > math.MaxInt64-b {
		return 0, false
	}
	return a + b, true
}

func ValidateRequest(req SubmitRequest) error {
	if !req.Service.Valid() {
		return invalidf("unknown service %q", req.Service)
	}
	if req.Service == types.ServiceClip {
		if strings.TrimSpace(req.Prompt) == "" && strings.TrimSpace(req.SourceURL) == "" {
			return invalidf("prompt or source_url is required")
		}
		return nil
	}
	u, err := url.Parse(strings.TrimSpace(req.SourceURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return invalidf("source_url must be an http(s) URL")
	}
	if len(req.Languages) == 0 {
		return invalidf("at least one target language is required")
	}
	for _, l := range req.Languages {
		if strings.TrimSpace(l) == "" {
			return invalidf("empty target language")
		}
	}
	if req.DurationSeconds <= 0 || math.IsNaN(req.DurationSeconds) || math.IsInf(req.DurationSeconds, 0) {
		return invalidf("duration_seconds must be positive")
	}
	if req.DurationSeconds > MaxDurationSeconds {
		return invalidf("duration_seconds exceeds %d", MaxDurationSeconds)
	}
	if req.StartSeconds != nil {
		start := *req.StartSeconds
		if start < 0 || math.IsNaN(start) {
			return invalidf("start_seconds must be non-negative")
		}
		if start >= req.DurationSeconds {
			return invalidf("start_seconds must be before the end of the source")
		}
	}
	if req.EndSeconds != nil && (math.IsNaN(*req.EndSeconds) || *req.EndSeconds <= 0) {
		return invalidf("end_seconds must be positive")
	}
	if req.EndSeconds != nil && *req.EndSeconds > req.DurationSeconds {
		return invalidf("end_seconds exceeds duration")
	}
	if req.StartSeconds != nil && req.EndSeconds != nil && *req.EndSeconds <= *req.StartSeconds {
		return invalidf("end_seconds must be after start_seconds")
	}
	return nil
}
