package model_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/slok/sloreport/pkg/common/model"
)

func getGoodSLO() model.SLO {
	return model.SLO{
		ServiceName: "test-svc",
		FeatureName: "test-feature",
		SLOName:     "availability",
		SLOTarget:   0.99,
		Backend: model.BackendConfig{
			Class:  "prometheus",
			Method: model.MethodGoodBadRatio,
		},
	}
}

func TestSLOValidate(t *testing.T) {
	tests := map[string]struct {
		slo    func() model.SLO
		expErr bool
	}{
		"A correct SLO should validate.": {
			slo: getGoodSLO,
		},

		"A missing service name should fail.": {
			slo: func() model.SLO {
				s := getGoodSLO()
				s.ServiceName = ""
				return s
			},
			expErr: true,
		},

		"A name with invalid characters should fail.": {
			slo: func() model.SLO {
				s := getGoodSLO()
				s.FeatureName = "bad name!"
				return s
			},
			expErr: true,
		},

		"A name starting with a digit should fail.": {
			slo: func() model.SLO {
				s := getGoodSLO()
				s.SLOName = "9lives"
				return s
			},
			expErr: true,
		},

		"A zero target should fail.": {
			slo: func() model.SLO {
				s := getGoodSLO()
				s.SLOTarget = 0
				return s
			},
			expErr: true,
		},

		"A target over 1 should fail.": {
			slo: func() model.SLO {
				s := getGoodSLO()
				s.SLOTarget = 1.01
				return s
			},
			expErr: true,
		},

		"A target of exactly 1 should validate, the report engine rejects it later.": {
			slo: func() model.SLO {
				s := getGoodSLO()
				s.SLOTarget = 1
				return s
			},
		},

		"An unknown SLI method should fail.": {
			slo: func() model.SLO {
				s := getGoodSLO()
				s.Backend.Method = "made_up"
				return s
			},
			expErr: true,
		},

		"A missing backend class should fail.": {
			slo: func() model.SLO {
				s := getGoodSLO()
				s.Backend.Class = ""
				return s
			},
			expErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			err := test.slo().Validate()

			if test.expErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSLOID(t *testing.T) {
	assert.Equal(t, "test-svc-test-feature-availability", getGoodSLO().ID())
}

func TestErrorBudgetPolicyValidate(t *testing.T) {
	tests := map[string]struct {
		policy model.ErrorBudgetPolicy
		expErr bool
	}{
		"A correct policy should validate.": {
			policy: model.ErrorBudgetPolicy{Steps: []model.ErrorBudgetPolicyStep{
				{Name: "1 hour", Window: 1 * time.Hour, BurnRateThreshold: 9},
			}},
		},

		"A policy without steps should fail.": {
			policy: model.ErrorBudgetPolicy{},
			expErr: true,
		},

		"A step without a window should fail.": {
			policy: model.ErrorBudgetPolicy{Steps: []model.ErrorBudgetPolicyStep{
				{Name: "1 hour", BurnRateThreshold: 9},
			}},
			expErr: true,
		},

		"A step with a zero burn rate threshold should fail.": {
			policy: model.ErrorBudgetPolicy{Steps: []model.ErrorBudgetPolicyStep{
				{Name: "1 hour", Window: 1 * time.Hour},
			}},
			expErr: true,
		},

		"A step without a name should fail.": {
			policy: model.ErrorBudgetPolicy{Steps: []model.ErrorBudgetPolicyStep{
				{Window: 1 * time.Hour, BurnRateThreshold: 9},
			}},
			expErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			err := test.policy.Validate()

			if test.expErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
