package health

import (
	"context"
	"errors"
	"fmt"

	"github.com/voicecue/voicecue/internal/script"
	"github.com/voicecue/voicecue/internal/transport"
)

// SessionChecker reports voice-sync readiness from the transport's
// connection state. Idle counts as ready: the engine in manual mode is still
// fully usable.
func SessionChecker(state func() transport.State) Checker {
	return Checker{
		Name: "voice_sync",
		Check: func(context.Context) error {
			if s := state(); s == transport.StateError {
				return fmt.Errorf("transport is in state %s", s)
			}
			return nil
		},
	}
}

// ScriptChecker reports whether a non-empty script is loaded.
func ScriptChecker(idx *script.Index) Checker {
	return Checker{
		Name: "script",
		Check: func(context.Context) error {
			if idx == nil || idx.Len() == 0 {
				return errors.New("no script loaded")
			}
			return nil
		},
	}
}
