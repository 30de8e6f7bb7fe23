package provider

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
)

// ScriptCommands holds the argv for each provider operation of a
// Script provider. Commands a run never exercises may be left empty.
type ScriptCommands struct {
	Create  []string
	Wait    []string
	Destroy []string
	Sync    []string
}

// Script implements Provider by shelling out to operator-supplied
// commands. It exists for smoke runs and for platforms without a
// native adapter; the volume and snapshot name are handed to each
// command via SNAPLAT_VOLUME and SNAPLAT_SNAPSHOT, and the wait
// command additionally receives SNAPLAT_TRANSID.
//
// Script commands have no real transaction id; CreateAsync always
// returns 0.
type Script struct {
	volume   string
	snapshot string
	cmds     ScriptCommands
}

// NewScript returns a command-backed provider for the given volume.
func NewScript(volume, snapshot string, cmds ScriptCommands) *Script {
	return &Script{volume: volume, snapshot: snapshot, cmds: cmds}
}

func (s *Script) run(ctx context.Context, name string, argv []string, extraEnv ...string) error {
	if len(argv) == 0 {
		return fmt.Errorf("script provider: no %s command configured", name)
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Env = append(os.Environ(),
		"SNAPLAT_VOLUME="+s.volume,
		"SNAPLAT_SNAPSHOT="+s.snapshot,
	)
	cmd.Env = append(cmd.Env, extraEnv...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("script provider: %s command: %w (output: %s)", name, err, out)
	}
	return nil
}

func (s *Script) CreateAsync(ctx context.Context) (uint64, error) {
	if err := s.run(ctx, "create", s.cmds.Create); err != nil {
		return 0, err
	}
	return 0, nil
}

func (s *Script) WaitCommit(ctx context.Context, transID uint64) error {
	return s.run(ctx, "wait", s.cmds.Wait,
		"SNAPLAT_TRANSID="+strconv.FormatUint(transID, 10))
}

func (s *Script) Destroy(ctx context.Context) error {
	return s.run(ctx, "destroy", s.cmds.Destroy)
}

func (s *Script) Sync(ctx context.Context) error {
	return s.run(ctx, "sync", s.cmds.Sync)
}
