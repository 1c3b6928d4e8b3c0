package services

import (
	"context"
	"testing"

	"emojiparty/models"

	"github.com/stretchr/testify/assert"
)

func TestArchiveWithoutDatabaseDropsRecords(t *testing.T) {
	archive := NewArchive(nil)
	ctx := context.Background()

	assert.IsType(t, nopArchive{}, archive)
	assert.NoError(t, archive.ArchiveRound(ctx, &models.Round{ID: "r1"}, &models.RoundResult{}))
	assert.NoError(t, archive.ArchiveGame(ctx, &models.Game{ID: "g1"}, nil))
}
