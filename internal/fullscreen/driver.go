package fullscreen

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// shimCommand is the wire form of a command file for the kiosk shim. The
// shim watches the command directory and acts on each file it finds, the
// inverse of the signal spool it writes for us.
type shimCommand struct {
	Action      string `json:"action"`
	RequestedAt int64  `json:"requested_at_ms"`
}

// ShimDriver requests fullscreen re-entry by dropping command files into a
// directory watched by the kiosk shim.
type ShimDriver struct {
	dir string
}

// NewShimDriver creates a driver writing to the given command directory.
func NewShimDriver(dir string) *ShimDriver {
	return &ShimDriver{dir: dir}
}

// Enter dispatches an enter-fullscreen command. The write is atomic
// (temp file then rename) so the shim never reads a partial command.
func (d *ShimDriver) Enter(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.MkdirAll(d.dir, 0700); err != nil {
		return fmt.Errorf("creating command directory: %w", err)
	}

	data, err := json.Marshal(shimCommand{
		Action:      "enter_fullscreen",
		RequestedAt: time.Now().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("encoding command: %w", err)
	}

	name := fmt.Sprintf("%d-%s.json", time.Now().UnixNano(), uuid.NewString())
	tmp := filepath.Join(d.dir, name+".tmp")
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("writing command: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(d.dir, name)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("publishing command: %w", err)
	}

	return nil
}
