package cli

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitEnvCopiesUnprefixedVariables(t *testing.T) {
	t.Cleanup(viper.Reset)
	t.Setenv("SLFOO", "bar")

	InitEnv("sl")
	assert.Equal(t, "bar", os.Getenv("SL_FOO"))
	assert.Equal(t, "bar", viper.GetString("foo"))
}

func TestBindFlagsLoadViper(t *testing.T) {
	t.Cleanup(viper.Reset)

	home := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(home, "config"), 0700))
	require.NoError(t, os.WriteFile(
		filepath.Join(home, "config", "config.toml"),
		[]byte("name = \"from-file\"\n"),
		0600,
	))

	var got string
	cmd := &cobra.Command{
		Use:     "demo",
		PreRunE: BindFlagsLoadViper,
		RunE: func(cmd *cobra.Command, args []string) error {
			got = viper.GetString("name")
			return nil
		},
	}
	cmd.Flags().String(HomeFlag, home, "")
	cmd.Flags().String("name", "from-flag", "")

	cmd.SetArgs(nil)
	require.NoError(t, cmd.Execute())
	assert.Equal(t, "from-file", got)

	cmd.SetArgs([]string{"--name", "explicit"})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, "explicit", got)
}

func TestRunWithTrace(t *testing.T) {
	t.Cleanup(viper.Reset)

	cause := errors.New("boom")
	cmd := &cobra.Command{
		Use:  "fail",
		RunE: func(*cobra.Command, []string) error { return cause },
	}
	cmd.SetArgs(nil)
	err := RunWithTrace(context.Background(), cmd)
	assert.ErrorIs(t, err, cause)
	assert.True(t, cmd.SilenceUsage)
}
