package fs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/slok/sloreport/internal/log"
	commonerrors "github.com/slok/sloreport/pkg/common/errors"
	"github.com/slok/sloreport/pkg/common/model"
)

// sloConfigGlob is the file name pattern of SLO configs inside a directory.
const sloConfigGlob = "slo_*.yaml"

// NewConfigLoader returns a loader for the YAML SLO configs and error budget
// policies. Environment variables referenced as `${VAR}` on the raw files are
// substituted before unmarshalling, an unset variable is a configuration
// error.
func NewConfigLoader(logger log.Logger) ConfigLoader {
	return ConfigLoader{
		logger: logger.WithValues(log.Kv{"svc": "storage.fs.ConfigLoader"}),
	}
}

type ConfigLoader struct {
	logger log.Logger
}

// LoadSLO loads and validates a single SLO config from raw YAML data.
func (c ConfigLoader) LoadSLO(ctx context.Context, data []byte) (*model.SLO, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("slo config is required: %w", commonerrors.ErrInvalidConfiguration)
	}

	expanded, err := expandEnvVars(data)
	if err != nil {
		return nil, err
	}

	slo := &model.SLO{}
	err = yaml.UnmarshalStrict(expanded, slo)
	if err != nil {
		return nil, fmt.Errorf("could not unmarshal YAML slo config correctly: %v: %w", err, commonerrors.ErrInvalidConfiguration)
	}

	err = slo.Validate()
	if err != nil {
		return nil, fmt.Errorf("invalid slo config: %v: %w", err, commonerrors.ErrInvalidConfiguration)
	}

	return slo, nil
}

// LoadSLOsFromPath loads the SLO configs from a file path, or every
// `slo_*.yaml` file when the path is a directory, sorted by file name.
func (c ConfigLoader) LoadSLOsFromPath(ctx context.Context, path string) ([]model.SLO, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("could not stat slo config path: %w", err)
	}

	paths := []string{path}
	if info.IsDir() {
		paths, err = filepath.Glob(filepath.Join(path, sloConfigGlob))
		if err != nil {
			return nil, fmt.Errorf("could not glob slo configs: %w", err)
		}
		sort.Strings(paths)
	}

	if len(paths) == 0 {
		return nil, fmt.Errorf("no slo configs found in %q: %w", path, commonerrors.ErrInvalidConfiguration)
	}

	slos := make([]model.SLO, 0, len(paths))
	for _, p := range paths {
		c.logger.Debugf("Loading slo config %q", p)

		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("could not read slo config %q: %w", p, err)
		}

		slo, err := c.LoadSLO(ctx, data)
		if err != nil {
			return nil, fmt.Errorf("slo config %q: %w", p, err)
		}

		slos = append(slos, *slo)
	}

	return slos, nil
}

// errorBudgetPolicyStepYAML is the on-disk form of a policy step, the window
// is expressed in seconds.
type errorBudgetPolicyStepYAML struct {
	Name                      string  `yaml:"name"`
	WindowSeconds             int64   `yaml:"window"`
	BurnRateThreshold         float64 `yaml:"burn_rate_threshold"`
	AlertingBurnRateThreshold float64 `yaml:"alerting_burn_rate_threshold"`
	MessageAlert              string  `yaml:"message_alert"`
	MessageOK                 string  `yaml:"message_ok"`
}

// LoadErrorBudgetPolicy loads and validates an error budget policy from raw
// YAML data, an ordered list of steps.
func (c ConfigLoader) LoadErrorBudgetPolicy(ctx context.Context, data []byte) (*model.ErrorBudgetPolicy, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("error budget policy is required: %w", commonerrors.ErrInvalidConfiguration)
	}

	expanded, err := expandEnvVars(data)
	if err != nil {
		return nil, err
	}

	stepsYAML := []errorBudgetPolicyStepYAML{}
	err = yaml.UnmarshalStrict(expanded, &stepsYAML)
	if err != nil {
		return nil, fmt.Errorf("could not unmarshal YAML error budget policy correctly: %v: %w", err, commonerrors.ErrInvalidConfiguration)
	}

	policy := &model.ErrorBudgetPolicy{Steps: make([]model.ErrorBudgetPolicyStep, 0, len(stepsYAML))}
	for _, step := range stepsYAML {
		policy.Steps = append(policy.Steps, model.ErrorBudgetPolicyStep{
			Name:                      step.Name,
			Window:                    time.Duration(step.WindowSeconds) * time.Second,
			BurnRateThreshold:         step.BurnRateThreshold,
			AlertingBurnRateThreshold: step.AlertingBurnRateThreshold,
			MessageAlert:              step.MessageAlert,
			MessageOK:                 step.MessageOK,
		})
	}

	err = policy.Validate()
	if err != nil {
		return nil, fmt.Errorf("invalid error budget policy: %v: %w", err, commonerrors.ErrInvalidConfiguration)
	}

	return policy, nil
}

// LoadErrorBudgetPolicyFromPath loads the error budget policy from a file.
func (c ConfigLoader) LoadErrorBudgetPolicyFromPath(ctx context.Context, path string) (*model.ErrorBudgetPolicy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read error budget policy %q: %w", path, err)
	}

	policy, err := c.LoadErrorBudgetPolicy(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("error budget policy %q: %w", path, err)
	}

	return policy, nil
}

var envVarRegexp = regexp.MustCompile(`\$\{(\w+)\}`)

// expandEnvVars replaces `${VAR}` references with the environment values.
func expandEnvVars(data []byte) ([]byte, error) {
	var missing []string
	expanded := envVarRegexp.ReplaceAllFunc(data, func(match []byte) []byte {
		name := string(envVarRegexp.FindSubmatch(match)[1])
		value, ok := os.LookupEnv(name)
		if !ok {
			missing = append(missing, name)
			return match
		}
		return []byte(value)
	})

	if len(missing) > 0 {
		return nil, fmt.Errorf("environment variables %v should be set: %w", missing, commonerrors.ErrInvalidConfiguration)
	}

	return expanded, nil
}
