package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/beanserver/internal/faults"
	"github.com/zjrosen/beanserver/internal/presentation"
	"github.com/zjrosen/beanserver/internal/server"
)

// resetFlags restores every flag to its default so one Execute does not leak
// into the next.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

// execute runs the CLI against a config file holding content.
func execute(t *testing.T, content string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o600))

	resetFlags(rootCmd)
	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(append([]string{"--config", configPath, "--no-color"}, args...))
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	err := rootCmd.Execute()
	return stdout.String(), err
}

// === Unit Tests: configuration ===

func TestInitConfig_DefaultsWithoutFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	cfgFile = ""
	t.Cleanup(func() { cfgFile = "" })

	initConfig()

	require.NoError(t, cfgErr)
	require.Equal(t, "DefaultDomain", cfg.DefaultDomain)
	require.Equal(t, "info", cfg.Log.Level)
	require.Equal(t, "file", cfg.Tracing.Exporter)
	require.InDelta(t, 1.0, cfg.Tracing.SampleRate, 0.0001)
}

func TestInitConfig_EnvOverrides(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("BEANSERVER_DEFAULT_DOMAIN", "fromenv")
	cfgFile = ""
	t.Cleanup(func() { cfgFile = "" })

	initConfig()

	require.NoError(t, cfgErr)
	require.Equal(t, "fromenv", cfg.DefaultDomain)
}

func TestInitConfig_BrokenFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("cache: [unclosed"), 0o600))
	cfgFile = configPath
	t.Cleanup(func() { cfgFile = "" })

	initConfig()

	require.Error(t, cfgErr)
	require.Contains(t, cfgErr.Error(), "reading config")
}

func TestExecute_InvalidConfig(t *testing.T) {
	_, err := execute(t, "tracing:\n  sample_rate: 2\n", "domains")
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid configuration")
}

func TestExecute_InvalidOutputFormat(t *testing.T) {
	_, err := execute(t, "", "domains", "--output", "xml")
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown output format")
}

// === Integration Tests: object commands ===

func TestDomains(t *testing.T) {
	out, err := execute(t, "", "domains", "-o", "json")
	require.NoError(t, err)

	var domains []string
	require.NoError(t, json.Unmarshal([]byte(out), &domains))
	require.Equal(t, []string{"Implementation", "go.runtime"}, domains)
}

func TestQuery_Pattern(t *testing.T) {
	out, err := execute(t, "", "query", "go.runtime:*", "-o", "json")
	require.NoError(t, err)

	var objects []presentation.ObjectDTO
	require.NoError(t, json.Unmarshal([]byte(out), &objects))
	names := make([]string, len(objects))
	for i, o := range objects {
		names[i] = o.Name
	}
	require.ElementsMatch(t, []string{
		"go.runtime:type=Runtime",
		"go.runtime:type=Memory",
		"go.runtime:type=BuildInfo",
	}, names)
}

func TestQuery_AllByDefault(t *testing.T) {
	out, err := execute(t, "", "query", "-o", "json")
	require.NoError(t, err)

	var objects []presentation.ObjectDTO
	require.NoError(t, json.Unmarshal([]byte(out), &objects))
	require.Len(t, objects, 4)
}

func TestQuery_Where(t *testing.T) {
	out, err := execute(t, "", "query", "*:*", "--where", "GOOS="+runtime.GOOS, "-o", "json")
	require.NoError(t, err)

	var objects []presentation.ObjectDTO
	require.NoError(t, json.Unmarshal([]byte(out), &objects))
	require.Len(t, objects, 1)
	require.Equal(t, "go.runtime:type=Runtime", objects[0].Name)
}

func TestQuery_WhereInvalid(t *testing.T) {
	_, err := execute(t, "", "query", "--where", "novalue")
	require.Error(t, err)
	require.Contains(t, err.Error(), "attr=value")
}

func TestQuery_BadPattern(t *testing.T) {
	_, err := execute(t, "", "query", "no-colon")
	require.Error(t, err)
	require.ErrorIs(t, err, faults.ErrInvalidName)
}

func TestQuery_WildcardsOnlyInDomainAndPropertyList(t *testing.T) {
	out, err := execute(t, "", "query", "go.run?ime:type=Runtime,*", "-o", "json")
	require.NoError(t, err)

	var objects []presentation.ObjectDTO
	require.NoError(t, json.Unmarshal([]byte(out), &objects))
	require.Len(t, objects, 1)
	require.Equal(t, "go.runtime:type=Runtime", objects[0].Name)

	_, err = execute(t, "", "query", "go.runtime:type=Run*")
	require.ErrorIs(t, err, faults.ErrInvalidName)

	_, err = execute(t, "", "query", "go.runtime:type=Memor?")
	require.ErrorIs(t, err, faults.ErrInvalidName)

	require.NotContains(t, queryCmd.Long, "in property values")
}

func TestGet_NamedAttributes(t *testing.T) {
	out, err := execute(t, "", "get", "go.runtime:type=Runtime", "NumCPU", "GOOS", "Missing", "-o", "json")
	require.NoError(t, err)

	var values []presentation.AttributeValueDTO
	require.NoError(t, json.Unmarshal([]byte(out), &values))
	require.Len(t, values, 3)
	require.Equal(t, "NumCPU", values[0].Name)
	require.InDelta(t, float64(runtime.NumCPU()), values[0].Value, 0)
	require.Equal(t, runtime.GOOS, values[1].Value)
	require.Equal(t, "Missing", values[2].Name)
	require.NotEmpty(t, values[2].Error)
}

func TestGet_AllReadable(t *testing.T) {
	out, err := execute(t, "", "get", "go.runtime:type=Memory", "-o", "json")
	require.NoError(t, err)

	var values []presentation.AttributeValueDTO
	require.NoError(t, json.Unmarshal([]byte(out), &values))
	names := make([]string, len(values))
	for i, v := range values {
		names[i] = v.Name
		require.Empty(t, v.Error)
	}
	require.Contains(t, names, "HeapAlloc")
	require.Contains(t, names, "NumGC")
}

func TestGet_UnknownObject(t *testing.T) {
	_, err := execute(t, "", "get", "app:type=Nothing", "Size")
	require.ErrorIs(t, err, faults.ErrNotFound)
}

func TestSet_ParsesIntoAttributeType(t *testing.T) {
	procs := runtime.GOMAXPROCS(0)

	out, err := execute(t, "", "set", "go.runtime:type=Runtime", "MaxProcs", strconv.Itoa(procs), "-o", "json")
	require.NoError(t, err)

	var values []presentation.AttributeValueDTO
	require.NoError(t, json.Unmarshal([]byte(out), &values))
	require.Len(t, values, 1)
	require.InDelta(t, float64(procs), values[0].Value, 0)
}

func TestSet_RejectsUnparsableValue(t *testing.T) {
	_, err := execute(t, "", "set", "go.runtime:type=Runtime", "MaxProcs", "many")
	require.Error(t, err)
	require.Contains(t, err.Error(), "as int")
}

func TestSet_ReadOnly(t *testing.T) {
	_, err := execute(t, "", "set", "go.runtime:type=Runtime", "NumCPU", "4")
	require.ErrorIs(t, err, faults.ErrAttributeNotFound)
}

func TestInvoke_Void(t *testing.T) {
	out, err := execute(t, "", "invoke", "go.runtime:type=Memory", "GC", "-o", "json")
	require.NoError(t, err)
	require.JSONEq(t, `{"name":"go.runtime:type=Memory","operation":"GC","result":null}`, out)
}

func TestInvoke_WithSignature(t *testing.T) {
	out, err := execute(t, "", "invoke", "go.runtime:type=BuildInfo", "Setting", "GOOS", "--signature", "string", "-o", "json")
	require.NoError(t, err)

	var result presentation.InvokeResultDTO
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	require.Equal(t, "Setting", result.Operation)
}

func TestInvoke_UnknownOverload(t *testing.T) {
	_, err := execute(t, "", "invoke", "go.runtime:type=Memory", "GC", "extra")
	require.ErrorIs(t, err, faults.ErrOperationNotFound)

	_, err = execute(t, "", "invoke", "go.runtime:type=Memory", "Stats")
	require.ErrorIs(t, err, faults.ErrOperationNotFound)
}

func TestInvoke_AccessorNeedsSwitch(t *testing.T) {
	_, err := execute(t, "", "invoke", "go.runtime:type=Runtime", "GetNumCPU")
	require.ErrorIs(t, err, faults.ErrOperationNotFound)

	out, err := execute(t, "dispatch:\n  invoke_getters: true\n", "invoke", "go.runtime:type=Runtime", "GetNumCPU", "-o", "json")
	require.NoError(t, err)
	require.Contains(t, out, `"operation": "GetNumCPU"`)
}

func TestInvoke_FlagEnablesAccessors(t *testing.T) {
	out, err := execute(t, "flags:\n  invoke-getters: true\n", "invoke", "go.runtime:type=Runtime", "GetGOOS", "-o", "json")
	require.NoError(t, err)
	require.Contains(t, out, runtime.GOOS)

	_, err = execute(t, "flags:\n  invoke-getters: true\ndispatch:\n  invoke_getters: false\n",
		"invoke", "go.runtime:type=Runtime", "GetGOOS")
	require.ErrorIs(t, err, faults.ErrOperationNotFound)
}

func TestDescribe(t *testing.T) {
	out, err := execute(t, "", "describe", "go.runtime:type=Memory", "-o", "json")
	require.NoError(t, err)

	var d presentation.DescriptorDTO
	require.NoError(t, json.Unmarshal([]byte(out), &d))
	require.Equal(t, "go.runtime:type=Memory", d.Name)

	attrs := make(map[string]string)
	for _, a := range d.Attributes {
		attrs[a.Name] = a.Access
	}
	require.Equal(t, "read-only", attrs["HeapAlloc"])
	require.NotContains(t, attrs, "Stats")
}

func TestDescribe_Table(t *testing.T) {
	out, err := execute(t, "", "describe", server.DelegateName.String())
	require.NoError(t, err)
	require.Contains(t, out, "ImplementationName")
	require.Contains(t, out, "registration")
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "", "version", "-o", "json")
	require.NoError(t, err)

	var s presentation.ServerDTO
	require.NoError(t, json.Unmarshal([]byte(out), &s))
	require.Equal(t, server.ImplementationName, s.ImplementationName)
	require.Equal(t, server.SpecificationVersion, s.SpecificationVersion)
	require.NotEmpty(t, s.ID)
}

func TestVerbose_WritesLogsToStderr(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, nil, 0o600))

	resetFlags(rootCmd)
	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs([]string{"--config", configPath, "--verbose", "domains"})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	require.NoError(t, rootCmd.Execute())
	require.Contains(t, stderr.String(), "[DEBUG] [cli] Session ready")
}

func TestVerbose_WarnsAboutUnknownFlags(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("flags:\n  invoke-getter: true\n"), 0o600))

	resetFlags(rootCmd)
	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs([]string{"--config", configPath, "--verbose", "domains"})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	require.NoError(t, rootCmd.Execute())
	require.Contains(t, stderr.String(), "[WARN] [config] Ignoring unknown feature flags flags=invoke-getter")
}

// === Integration Tests: config commands ===

func TestConfigInit(t *testing.T) {
	target := filepath.Join(t.TempDir(), "beanserver", "config.yaml")

	out, err := execute(t, "", "config", "init", target)
	require.NoError(t, err)
	require.Equal(t, target+"\n", out)

	_, err = execute(t, "", "config", "init", target)
	require.Error(t, err)
	require.Contains(t, err.Error(), "already exists")

	_, err = execute(t, "", "config", "init", target, "--force")
	require.NoError(t, err)
}

func TestConfigSet_RunsWithBrokenConfig(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("tracing:\n  sample_rate: 2\n"), 0o600))

	resetFlags(rootCmd)
	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetArgs([]string{"--config", configPath, "config", "set", "tracing.sample_rate", "0.5"})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	require.NoError(t, rootCmd.Execute())

	loaded := viper.New()
	loaded.SetConfigFile(configPath)
	require.NoError(t, loaded.ReadInConfig())
	require.InDelta(t, 0.5, loaded.GetFloat64("tracing.sample_rate"), 0.0001)
}
