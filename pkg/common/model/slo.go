package model

import (
	"fmt"
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"
)

// SLI measurement methods supported by the backends. The set is closed, a
// method outside of it is rejected at validation time.
const (
	MethodGoodBadRatio    = "good_bad_ratio"
	MethodDistributionCut = "distribution_cut"
	MethodBasic           = "basic"
	MethodWindow          = "window"
	MethodQuerySLI        = "query_sli"
)

// SLO represents a service level objective configuration, the declarative
// input of a report computation. It is loaded once per evaluation cycle and
// read-only afterwards.
type SLO struct {
	ServiceName    string        `yaml:"service_name" validate:"required,name"`
	FeatureName    string        `yaml:"feature_name" validate:"required,name"`
	SLOName        string        `yaml:"slo_name" validate:"required,name"`
	SLODescription string        `yaml:"slo_description"`
	SLOTarget      float64       `yaml:"slo_target" validate:"gt=0,lte=1"`
	Backend        BackendConfig `yaml:"backend"`
}

// ID returns the unique identity triple of the SLO.
func (s SLO) ID() string {
	return fmt.Sprintf("%s-%s-%s", s.ServiceName, s.FeatureName, s.SLOName)
}

// Validate validates the SLO.
func (s SLO) Validate() error {
	return modelSpecValidate.Struct(s)
}

// BackendConfig selects the metrics backend and SLI method used to measure
// the SLO, plus the provider-specific measurement parameters.
type BackendConfig struct {
	Class       string            `yaml:"class" validate:"required,name"`
	Method      string            `yaml:"method" validate:"required,sli_method"`
	Options     map[string]string `yaml:"options"`
	Measurement MeasurementConfig `yaml:"measurement"`
}

// MeasurementConfig holds the method specific measurement parameters. Which
// fields are required depends on the backend class and SLI method, missing
// required fields are a configuration error surfaced by the backend.
type MeasurementConfig struct {
	// Query based backends (e.g Prometheus). Queries may use the `{{window}}`
	// template variable, replaced with the step window at measure time.
	QueryGood  string `yaml:"query_good,omitempty"`
	QueryBad   string `yaml:"query_bad,omitempty"`
	QueryValid string `yaml:"query_valid,omitempty"`
	Query      string `yaml:"query,omitempty"`

	// Metric descriptor based backends (e.g CloudWatch).
	MetricGood  *MetricDescriptor `yaml:"metric_good,omitempty"`
	MetricBad   *MetricDescriptor `yaml:"metric_bad,omitempty"`
	MetricValid *MetricDescriptor `yaml:"metric_valid,omitempty"`

	// Distribution cut parameters.
	FilterValid string  `yaml:"filter_valid,omitempty"`
	Threshold   float64 `yaml:"threshold,omitempty"`
	RangeMin    float64 `yaml:"range_min,omitempty"`
	RangeMax    float64 `yaml:"range_max,omitempty"`
}

// MetricDescriptor identifies a single metric on descriptor based providers.
type MetricDescriptor struct {
	Namespace  string            `yaml:"namespace"`
	Name       string            `yaml:"name" validate:"required"`
	Dimensions map[string]string `yaml:"dimensions"`
}

// ErrorBudgetPolicy is an ordered sequence of steps, loaded once and shared
// read-only across all the SLO evaluations of a run.
type ErrorBudgetPolicy struct {
	Steps []ErrorBudgetPolicyStep `validate:"min=1,dive"`
}

// Validate validates the error budget policy.
func (e ErrorBudgetPolicy) Validate() error {
	return modelSpecValidate.Struct(e)
}

// ErrorBudgetPolicyStep is a single measurement window with its burn rate
// alerting threshold. Steps are evaluated independently, their order only
// matters for the presentation order of the reports.
type ErrorBudgetPolicyStep struct {
	Name string `yaml:"name" validate:"required"`
	// Window is the measurement window, in seconds on the YAML form.
	Window            time.Duration `yaml:"-" validate:"gt=0"`
	BurnRateThreshold float64       `yaml:"burn_rate_threshold" validate:"gt=0"`
	// AlertingBurnRateThreshold overrides BurnRateThreshold for the alert
	// decision when set.
	AlertingBurnRateThreshold float64 `yaml:"alerting_burn_rate_threshold,omitempty"`
	MessageAlert              string  `yaml:"message_alert,omitempty"`
	MessageOK                 string  `yaml:"message_ok,omitempty"`
}

// Measurement is the transient response of a backend for one window, either
// raw event counts or a direct SLI value. Only one of the variants is set.
type Measurement struct {
	GoodBadEvents   *GoodBadEvents
	GoodValidEvents *GoodValidEvents
	Value           *SLIValue
}

// GoodBadEvents are raw good/bad event counts.
type GoodBadEvents struct {
	GoodCount float64
	BadCount  float64
}

// GoodValidEvents are raw good/valid event counts.
type GoodValidEvents struct {
	GoodCount  float64
	ValidCount float64
}

// SLIValue is a direct SLI measurement. Typically within [0, 1] although some
// distribution methods may exceed 1, consumers must not assume a hard upper
// bound.
type SLIValue struct {
	Value float64
}

var modelSpecValidate = func() *validator.Validate {
	v := validator.New()
	mustRegisterValidation(v, "name", validateName)
	mustRegisterValidation(v, "sli_method", validateSLIMethod)
	return v
}()

// mustRegisterValidation is a helper so we panic on start if we can't register a validator.
func mustRegisterValidation(v *validator.Validate, tag string, fn validator.Func) {
	err := v.RegisterValidation(tag, fn)
	if err != nil {
		panic(err)
	}
}

var nameRegexp = regexp.MustCompile("^[a-zA-Z]([a-zA-Z0-9_-]*[a-zA-Z0-9])?$")

// validateName implements validator.Func by validating an identity name.
func validateName(fl validator.FieldLevel) bool {
	s, ok := fl.Field().Interface().(string)
	if !ok {
		return false
	}

	return nameRegexp.MatchString(s)
}

var sliMethods = map[string]struct{}{
	MethodGoodBadRatio:    {},
	MethodDistributionCut: {},
	MethodBasic:           {},
	MethodWindow:          {},
	MethodQuerySLI:        {},
}

// validateSLIMethod implements validator.Func by validating the SLI method
// is one of the closed supported set.
func validateSLIMethod(fl validator.FieldLevel) bool {
	s, ok := fl.Field().Interface().(string)
	if !ok {
		return false
	}

	_, ok = sliMethods[s]
	return ok
}
