package extract

import (
	"context"
	"fmt"

	"github.com/google/renameio/v2"

	"github.com/forensiq/wacapture/internal/log"
)

// writeExport durably writes the rendered document to path. renameio gives
// atomic + fsynced writes, so a crash mid-write never leaves a partial export.
func writeExport(ctx context.Context, path string, doc Document) error {
	logger := log.FromContext(ctx)

	pending, err := renameio.NewPendingFile(path)
	if err != nil {
		return fmt.Errorf("create pending export file: %w", err)
	}
	defer func() {
		if err := pending.Cleanup(); err != nil {
			logger.Debug().Err(err).Msg("cleanup pending export file")
		}
	}()

	if err := WriteDocument(pending, doc); err != nil {
		return fmt.Errorf("write export document: %w", err)
	}

	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace export file: %w", err)
	}

	return nil
}
