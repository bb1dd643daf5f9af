package kernel

import (
	"context"
	"os"

	"github.com/itsmostafa/gocell/internal/host"
)

// runStartup runs the configured startup scripts once per session. A script
// that fails is logged and skipped; none of them enter the history. Callers
// hold mu.
func (k *Kernel) runStartup(ctx context.Context) {
	k.started = true

	type script struct{ name, text string }
	var scripts []script

	files, err := k.cfg.StartupFiles()
	if err != nil {
		k.log.Warn("startup scripts not loaded", "session", k.ID(), "error", err)
	}
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			k.log.Warn("startup script unreadable", "session", k.ID(), "file", f, "error", err)
			continue
		}
		scripts = append(scripts, script{name: f, text: string(data)})
	}
	if k.cfg.StartupScript != "" {
		scripts = append(scripts, script{name: "inline", text: k.cfg.StartupScript})
	}

	for _, s := range scripts {
		res, err := k.execute(ctx, s.text, host.NewCapture(k.stdout, k.stderr))
		if err != nil {
			k.log.Error("startup script stopped the session", "session", k.ID(), "script", s.name, "error", err)
			return
		}
		o := res.outcome
		switch o.Tag {
		case host.TagValue, host.TagVoid:
			k.log.Debug("startup script ran", "session", k.ID(), "script", s.name)
		case host.TagCompileFailure:
			msg := ""
			if len(o.Diagnostics) > 0 {
				msg = o.Diagnostics[0].String()
			}
			k.log.Warn("startup script failed", "session", k.ID(), "script", s.name, "outcome", o.Tag.String(), "error", msg)
		case host.TagRuntimeFault:
			msg := ""
			if o.Fault != nil {
				msg = o.Fault.Kind + ": " + o.Fault.Message
			}
			k.log.Warn("startup script failed", "session", k.ID(), "script", s.name, "outcome", o.Tag.String(), "error", msg)
		default:
			k.log.Warn("startup script failed", "session", k.ID(), "script", s.name, "outcome", o.Tag.String())
		}
	}
}
