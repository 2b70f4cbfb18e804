// Package validation normalizes raw pulse submissions and reports every
// violated field at once.
//
// Raw values are coerced first (JSON numbers or numeric strings), then the
// coerced struct is range-checked with go-playground/validator. Coercion,
// enum and range failures are merged into a single *Errors value.
package validation

import (
	"errors"
	"fmt"
	"html"
	"math"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"mood-pulse-backend/internal/models"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// FieldError names one violated field and why
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// Errors is the full set of violations found in one submission
type Errors struct {
	Fields []FieldError `json:"fields"`
}

// Error joins every violation into one message
func (e *Errors) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Reason)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Has reports whether field was rejected
func (e *Errors) Has(field string) bool {
	for _, f := range e.Fields {
		if f.Field == field {
			return true
		}
	}
	return false
}

func (e *Errors) add(field, reason string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Reason: reason})
}

// RawPulse is an undecoded submission as handed over by the transport layer
type RawPulse struct {
	Lat          any   `json:"lat"`
	Lng          any   `json:"lng"`
	Mood         any   `json:"mood"`
	Energy       any   `json:"energy"`
	Text         any   `json:"text"`
	AllowConnect *bool `json:"allow_connect"`
}

// coerced carries the numeric fields after type coercion for range checks
type coerced struct {
	Lat    float64 `json:"lat" validate:"min=-90,max=90"`
	Lng    float64 `json:"lng" validate:"min=-180,max=180"`
	Energy int     `json:"energy" validate:"min=1,max=5"`
}

// GetValidator returns the shared go-playground validator, reporting json field names
func GetValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "" || name == "-" {
				return fld.Name
			}
			return name
		})
	})
	return validate
}

// ValidateStruct runs struct tags and converts failures to *Errors
func ValidateStruct(s any) error {
	return toErrors(GetValidator().Struct(s))
}

// Validator turns RawPulse values into models.NewPulse
type Validator struct {
	maxTextLength int
}

// New creates a validator truncating notes to maxTextLength runes
func New(maxTextLength int) *Validator {
	return &Validator{maxTextLength: maxTextLength}
}

// Validate normalizes raw. On failure the returned error is *Errors listing
// every violated field.
func (v *Validator) Validate(raw RawPulse) (*models.NewPulse, error) {
	errs := &Errors{}
	var c coerced
	var checked []string

	if lat, ok := coerceCoordinate(errs, "lat", raw.Lat); ok {
		c.Lat = lat
		checked = append(checked, "Lat")
	}
	if lng, ok := coerceCoordinate(errs, "lng", raw.Lng); ok {
		c.Lng = lng
		checked = append(checked, "Lng")
	}
	if energy, ok := coerceEnergy(errs, raw.Energy); ok {
		c.Energy = energy
		checked = append(checked, "Energy")
	}

	if len(checked) > 0 {
		if err := toErrors(GetValidator().StructPartial(&c, checked...)); err != nil {
			var rangeErrs *Errors
			if errors.As(err, &rangeErrs) {
				errs.Fields = append(errs.Fields, rangeErrs.Fields...)
			} else {
				return nil, err
			}
		}
	}

	mood := parseMood(errs, raw.Mood)
	text := v.normalizeText(errs, raw.Text)

	if len(errs.Fields) > 0 {
		return nil, errs
	}

	allowConnect := true
	if raw.AllowConnect != nil {
		allowConnect = *raw.AllowConnect
	}

	return &models.NewPulse{
		Lat:          c.Lat,
		Lng:          c.Lng,
		Mood:         mood,
		Energy:       c.Energy,
		Text:         text,
		AllowConnect: allowConnect,
	}, nil
}

func coerceCoordinate(errs *Errors, field string, raw any) (float64, bool) {
	if raw == nil {
		errs.add(field, "is required")
		return 0, false
	}
	f, ok := toFloat(raw)
	if !ok {
		errs.add(field, "must be a number")
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		errs.add(field, "must be a finite number")
		return 0, false
	}
	return f, true
}

func coerceEnergy(errs *Errors, raw any) (int, bool) {
	f, ok := coerceCoordinate(errs, "energy", raw)
	if !ok {
		return 0, false
	}
	rounded := math.Round(f)
	if math.Abs(f-rounded) > 1e-9 {
		errs.add("energy", "must be an integer")
		return 0, false
	}
	if rounded < math.MinInt32 || rounded > math.MaxInt32 {
		errs.add("energy", "must be between 1 and 5")
		return 0, false
	}
	return int(rounded), true
}

func parseMood(errs *Errors, raw any) models.Mood {
	if raw == nil {
		errs.add("mood", "is required")
		return ""
	}
	s, ok := raw.(string)
	if !ok {
		errs.add("mood", "must be a string")
		return ""
	}
	mood, err := models.ParseMood(s)
	if err != nil {
		names := make([]string, len(models.Moods))
		for i, m := range models.Moods {
			names[i] = string(m)
		}
		errs.add("mood", "must be one of "+strings.Join(names, ", "))
		return ""
	}
	return mood
}

// normalizeText trims, truncates to the rune cap and HTML-escapes the note.
// Over-long notes are cut, never rejected.
func (v *Validator) normalizeText(errs *Errors, raw any) *string {
	if raw == nil {
		return nil
	}
	s, ok := raw.(string)
	if !ok {
		errs.add("text", "must be a string")
		return nil
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if v.maxTextLength > 0 && utf8.RuneCountInString(s) > v.maxTextLength {
		s = strings.TrimSpace(string([]rune(s)[:v.maxTextLength]))
	}
	escaped := html.EscapeString(s)
	return &escaped
}

type floater interface {
	Float64() (float64, error)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	case floater:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func toErrors(err error) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validation: %w", err)
	}

	out := &Errors{}
	for _, fe := range verrs {
		out.add(fe.Field(), reasonFor(fe))
	}
	return out
}

func reasonFor(fe validator.FieldError) string {
	switch fe.Tag() {
	case "min", "gte":
		return "must be at least " + fe.Param()
	case "max", "lte":
		return "must be at most " + fe.Param()
	case "required":
		return "is required"
	case "oneof":
		return "must be one of " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "gtefield":
		return "must not be less than " + fe.Param()
	default:
		return fmt.Sprintf("failed %s check", fe.Tag())
	}
}
