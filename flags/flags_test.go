package flags

import (
	"testing"
	"time"

	opservice "github.com/ethereum-optimism/optimism/op-service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/infra/op-testbridge/emitter"
)

var commandFlags = map[string][]cli.Flag{
	"collect": CollectFlags,
	"run":     RunFlags,
}

// TestFlagsDontSetRequired asserts that no flag sets the Required field. Missing
// test sources are reported by CheckRun instead.
func TestFlagsDontSetRequired(t *testing.T) {
	for _, flags := range commandFlags {
		for _, flag := range flags {
			reqFlag, ok := flag.(cli.RequiredFlag)
			require.True(t, ok)
			require.False(t, reqFlag.IsRequired())
		}
	}
}

// TestUniqueFlags asserts that all flag names of a command are unique, to avoid accidental conflicts between the many flags.
func TestUniqueFlags(t *testing.T) {
	for command, flags := range commandFlags {
		seenCLI := make(map[string]struct{})
		for _, flag := range flags {
			name := flag.Names()[0]
			if _, ok := seenCLI[name]; ok {
				t.Errorf("duplicate flag %s in %s", name, command)
				continue
			}
			seenCLI[name] = struct{}{}
		}
	}
}

func TestEnvVarFormat(t *testing.T) {
	for command, flags := range commandFlags {
		for _, flag := range flags {
			flagName := flag.Names()[0]

			t.Run(command+"/"+flagName, func(t *testing.T) {
				envFlagGetter, ok := flag.(interface {
					GetEnvVars() []string
				})
				require.True(t, ok, "must be able to cast the flag to an EnvVar interface")
				envFlags := envFlagGetter.GetEnvVars()
				require.Equal(t, 1, len(envFlags), "flags should have exactly one env var")
				require.Equal(t, opservice.FlagNameToEnvVarName(flagName, EnvVarPrefix), envFlags[0])
			})
		}
	}
}

// The launcher exports these names to the target
func TestCollectorAddressEnvVars(t *testing.T) {
	assert.Equal(t, []string{"OP_TESTBRIDGE_HOST"}, Host.EnvVars)
	assert.Equal(t, []string{"OP_TESTBRIDGE_PORT"}, Port.EnvVars)
}

func TestRunDefaults(t *testing.T) {
	app := &cli.App{
		Flags: RunFlags,
		Action: func(ctx *cli.Context) error {
			assert.Equal(t, "127.0.0.1", ctx.String(Host.Name))
			assert.Equal(t, 8889, ctx.Int(Port.Name))
			assert.Equal(t, ".", ctx.String(WorkDir.Name))
			assert.Equal(t, "go", ctx.String(GoBinary.Name))
			assert.Equal(t, 10*time.Minute, ctx.Duration(Timeout.Name))
			assert.Equal(t, emitter.DefaultSettleInterval, ctx.Duration(SettleInterval.Name))
			assert.Equal(t, emitter.DefaultDialTimeout, ctx.Duration(DialTimeout.Name))
			assert.Equal(t, "go test", ctx.String(Suite.Name))
			return nil
		},
	}
	require.NoError(t, app.Run([]string{"app"}))
}

func TestCollectDefaults(t *testing.T) {
	app := &cli.App{
		Flags: CollectFlags,
		Action: func(ctx *cli.Context) error {
			assert.Equal(t, "0.0.0.0", ctx.String(ListenAddr.Name))
			assert.Equal(t, 8889, ctx.Int(Port.Name))
			assert.Equal(t, "logs", ctx.String(LogDir.Name))
			assert.Empty(t, ctx.String(ServiceAddr.Name))
			assert.Empty(t, ctx.String(Launch.Name))
			assert.False(t, ctx.Bool(ShowEvents.Name))
			return nil
		},
	}
	require.NoError(t, app.Run([]string{"app"}))
}

func TestCheckRun(t *testing.T) {
	testCases := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"tests only", []string{"app", "--tests", "tests.txt"}, ""},
		{"input only", []string{"app", "--input", "-"}, ""},
		{"neither", []string{"app"}, "one of --tests or --input is required"},
		{"both", []string{"app", "--tests", "tests.txt", "--input", "-"}, "mutually exclusive"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			app := &cli.App{
				Flags:  RunFlags,
				Action: CheckRun,
			}
			err := app.Run(tc.args)
			if tc.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.ErrorContains(t, err, tc.wantErr)
			}
		})
	}
}

func TestCheckPort(t *testing.T) {
	testCases := []struct {
		name        string
		args        []string
		shouldError bool
	}{
		{"default", []string{"app"}, false},
		{"ephemeral", []string{"app", "--port", "0"}, false},
		{"negative", []string{"app", "--port", "-1"}, true},
		{"too large", []string{"app", "--port", "70000"}, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			app := &cli.App{
				Flags:  []cli.Flag{Port},
				Action: CheckPort,
			}
			err := app.Run(tc.args)
			if tc.shouldError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
