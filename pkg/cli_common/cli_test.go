package clicommon

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLevelledFlag(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    LevelledFlag
		wantErr bool
	}{
		{name: "unset", args: nil, want: 0},
		{name: "once", args: []string{"-v"}, want: 1},
		{name: "repeated", args: []string{"-v", "-v", "-v"}, want: 3},
		{name: "explicit level", args: []string{"--verbose=2"}, want: 2},
		{name: "lowered", args: []string{"-v", "-v", "--verbose=false"}, want: 1},
		{name: "never negative", args: []string{"--verbose=false"}, want: 0},
		{name: "invalid", args: []string{"--verbose=loud"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &CommonConfig{}
			root := &cobra.Command{Use: "test"}
			SetupRoot(root, cfg)
			err := root.ParseFlags(tt.args)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, cfg.Verbose)
		})
	}
}

func TestCommonConfig_LogOpts(t *testing.T) {
	cfg := &CommonConfig{Verbose: 1, JsonLog: true}

	opts := cfg.LogOpts()
	assert.True(t, opts.Verbose)
	assert.Equal(t, "json", opts.Encoding)
	assert.Equal(t, zap.InfoLevel, opts.DefaultLevels["construct"], "chatty loggers stay quiet below -vv")

	cfg.Verbose = 2
	assert.Nil(t, cfg.LogOpts().DefaultLevels)
}
