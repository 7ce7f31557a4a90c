// Package checkpoint persists the log tailer's watermark so a restart
// resumes after the last published change instead of from zero.
package checkpoint

import (
	"context"

	"bigcartel/trickle/consts"
)

type Store interface {
	// Load returns 0 when nothing was saved under name yet.
	Load(ctx context.Context, name string) (int64, error)
	Save(ctx context.Context, name string, sequence int64) error
}

// WatermarkKey names the checkpoint of the tailer reading changeLogTable.
func WatermarkKey(changeLogTable string) string {
	return consts.WatermarkKeyPrefix + changeLogTable
}
