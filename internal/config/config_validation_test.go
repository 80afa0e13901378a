package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateConfigurationFormat_Valid(t *testing.T) {
	root, err := ValidateConfigurationFormat(createTempConfig(t, profilesYAML))
	require.NoError(t, err)
	assert.Equal(t, "default", root.ActiveConfig)
	assert.Len(t, root.Configs, 2)
	assert.Nil(t, root.Globals)
}

func TestValidateConfigurationFormat_Invalid(t *testing.T) {
	cases := map[string]struct {
		yaml string
		want string
	}{
		"no configs": {
			yaml: "active_config: default\n",
			want: "configs section is required",
		},
		"unknown active config": {
			yaml: "active_config: other\nconfigs:\n  default:\n    recording:\n      channels: 4\n",
			want: "active_config 'other'",
		},
		"negative sample rate": {
			yaml: "configs:\n  default:\n    recording:\n      sample_rate: -1\n",
			want: "sample_rate",
		},
		"negative length": {
			yaml: "configs:\n  default:\n    recording:\n      length: -3\n",
			want: "length",
		},
		"unknown source": {
			yaml: "configs:\n  default:\n    acquisition:\n      source: nidaq\n",
			want: "acquisition.source",
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ValidateConfigurationFormat(createTempConfig(t, tc.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestConfig_ValidateResolved(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	cfg.Recording.BlockSize = 0
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Output.Directory = ""
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Acquisition.Source = "nidaq"
	assert.Error(t, cfg.Validate())
}
