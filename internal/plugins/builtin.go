package plugins

import (
	csvbackup "github.com/ArionMiles/spendnudge/pkg/plugins/backups/csv"
	gcsbackup "github.com/ArionMiles/spendnudge/pkg/plugins/backups/gcs"
	jsonbackup "github.com/ArionMiles/spendnudge/pkg/plugins/backups/json"
	sheetsbackup "github.com/ArionMiles/spendnudge/pkg/plugins/backups/sheets"
	gmailsource "github.com/ArionMiles/spendnudge/pkg/plugins/sources/gmail"
	mboxsource "github.com/ArionMiles/spendnudge/pkg/plugins/sources/mbox"
)

// NewDefaultRegistry returns a registry with every built-in plugin.
func NewDefaultRegistry() (*Registry, error) {
	r := NewRegistry()

	for _, p := range []SourcePlugin{&gmailsource.Plugin{}, &mboxsource.Plugin{}} {
		if err := r.RegisterSource(p); err != nil {
			return nil, err
		}
	}
	for _, p := range []BackupPlugin{&sheetsbackup.Plugin{}, &jsonbackup.Plugin{}, &gcsbackup.Plugin{}, &csvbackup.Plugin{}} {
		if err := r.RegisterBackup(p); err != nil {
			return nil, err
		}
	}
	return r, nil
}
