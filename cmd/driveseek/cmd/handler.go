package cmd

import (
	"context"
	"path/filepath"
	"time"

	"github.com/driveseek/driveseek/internal/config"
	"github.com/driveseek/driveseek/internal/daemon"
	"github.com/driveseek/driveseek/internal/search"
	"github.com/driveseek/driveseek/pkg/engine"
)

// engineHandler adapts an engine to the daemon's request handler. The
// daemon server serves it over the unix socket; the index and status
// commands reuse it locally so both paths produce identical results.
type engineHandler struct {
	eng *engine.Engine
}

func (h *engineHandler) Search(ctx context.Context, params daemon.SearchParams) (<-chan search.Update, error) {
	return h.eng.Search(ctx, search.Params{
		Raw:        params.Query,
		Scope:      search.Scope{Drive: params.Drive},
		SessionKey: params.SessionKey,
		NameOnly:   params.NameOnly,
		Limit:      params.Limit,
	})
}

func (h *engineHandler) Status() daemon.StatusResult {
	// The all-drives scope never fails; only naming an unknown drive can.
	sum, _ := h.eng.Status(search.Scope{})
	return statusResult(sum)
}

func (h *engineHandler) Index(ctx context.Context, params daemon.IndexParams) (daemon.IndexResult, error) {
	start := time.Now()
	var res daemon.IndexResult

	if len(params.Drives) == 0 {
		sum, err := h.eng.BuildIndex(ctx, search.Scope{})
		if err != nil {
			return daemon.IndexResult{}, err
		}
		res.Built = sum.Built
		res.Failed = failureStrings(sum.Failed)
	} else {
		for _, drive := range params.Drives {
			abs, err := filepath.Abs(drive)
			if err != nil {
				abs = drive
			}
			sum, err := h.eng.BuildIndex(ctx, search.Scope{Drive: abs})
			if err != nil {
				return daemon.IndexResult{}, err
			}
			res.Built = append(res.Built, sum.Built...)
			for d, msg := range failureStrings(sum.Failed) {
				if res.Failed == nil {
					res.Failed = make(map[string]string)
				}
				res.Failed[d] = msg
			}
		}
	}

	res.ElapsedMS = time.Since(start).Milliseconds()
	return res, nil
}

// statusResult converts an engine status summary to its wire form.
// The daemon server fills in the process fields.
func statusResult(sum engine.StatusSummary) daemon.StatusResult {
	res := daemon.StatusResult{
		Drives:      make([]daemon.DriveStatus, 0, len(sum.PerDrive)),
		ReadyCount:  sum.ReadyCount,
		TotalDrives: sum.TotalDrives,
		TotalFiles:  sum.TotalFiles,
	}
	for _, st := range sum.PerDrive {
		ds := daemon.DriveStatus{
			Drive:      st.Drive,
			State:      string(st.State),
			Generation: st.Generation,
			Files:      st.Count,
			Error:      st.Failure,
		}
		if !st.BuiltAt.IsZero() {
			ds.BuiltAt = st.BuiltAt.Unix()
		}
		res.Drives = append(res.Drives, ds)
	}
	return res
}

func failureStrings(failed map[string]error) map[string]string {
	if len(failed) == 0 {
		return nil
	}
	out := make(map[string]string, len(failed))
	for drive, err := range failed {
		out[drive] = err.Error()
	}
	return out
}

// daemonClientConfig derives the daemon connection settings from the
// loaded configuration, honoring its socket and path overrides.
func daemonClientConfig(cfg *config.Config) daemon.Config {
	dcfg := daemon.ConfigForDataDir(cfg.ResolvedDataDir())
	dcfg.SocketPath = cfg.SocketPath()
	dcfg.PIDPath = cfg.PIDPath()
	dcfg.LockPath = cfg.LockPath()
	dcfg.Timeout = cfg.RequestTimeout()
	return dcfg
}
