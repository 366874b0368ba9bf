package sessionname

import (
	"testing"

	"release-orchestrator/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		in   Name
	}{
		{"plain", Name{TestType: "microbenchmark", Version: "1.0.0", Commit: "abc123", Branch: "master", ID: "1700000000"}},
		{"underscore type", Name{TestType: "long_running_tests", Version: "2.0.0.dev0", Commit: "deadbeef", Branch: "releases/2.0", ID: "train_small-17"}},
		{"percent and underscore", Name{TestType: "t", Version: "v_1%", Commit: "c%5F", Branch: "b__", ID: ""}},
		{"empty fields", Name{TestType: "rllib_unit_gpu_tests"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.in.String())
			require.NoError(t, err)
			assert.Equal(t, tt.in, got)
		})
	}
}

func TestString_EscapesSeparator(t *testing.T) {
	n := Name{TestType: "long_running_tests", Version: "1", Commit: "c", Branch: "master", ID: "42"}
	assert.Equal(t, "long%5Frunning%5Ftests_1_c_master_42", n.String())
}

func TestParse_Invalid(t *testing.T) {
	for _, s := range []string{
		"",
		"only_three_fields",
		"a_b_c_d_e_f",
		"_1_c_master_42",
		"t_%zz_c_master_42",
	} {
		_, err := Parse(s)
		assert.ErrorIs(t, err, domain.ErrInvalidSessionName, s)
	}
}
