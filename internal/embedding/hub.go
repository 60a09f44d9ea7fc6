package embedding

import (
	"fmt"

	"github.com/gomlx/go-huggingface/hub"
)

// fetchModelFile downloads file from the modelID repository into cacheDir and
// returns the local path. Files already present in the cache are reused
// without a network round trip.
func fetchModelFile(modelID, cacheDir, file string) (string, error) {
	repo := hub.New(modelID).WithCacheDir(cacheDir)
	path, err := repo.DownloadFile(file)
	if err != nil {
		return "", fmt.Errorf("failed to download %s from %s: %w", file, modelID, err)
	}
	return path, nil
}
