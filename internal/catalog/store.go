package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/pulseroom/pulseroom/internal/position"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
)

const (
	opStoreNew         = "catalog.store.new"
	opListTracks       = "catalog.list_tracks"
	opListPlaylists    = "catalog.list_playlists"
	opCreatePlaylist   = "catalog.create_playlist"
	opDeletePlaylist   = "catalog.delete_playlist"
	opListItems        = "catalog.list_items"
	opAddItem          = "catalog.add_item"
	opRemoveItem       = "catalog.remove_item"
	opMoveItem         = "catalog.move_item"
	opActivateItem     = "catalog.activate_item"
	opVote             = "catalog.vote"
	opRenormalize      = "catalog.renormalize_positions"
	reasonQueryFailed  = "query_failed"
	reasonWriteFailed  = "write_failed"
	queryByID          = "id = ?"
	queryByPlaylist    = "playlist_id = ?"
	orderPositionAsc   = "position ASC"
	orderCreatedAtAsc  = "created_at ASC"
	orderTitleAsc      = "title ASC"
	columnPosition     = "position"
	columnIsPlaying    = "is_playing"
	columnVotes        = "votes"
	expressionVoteStep = "votes + ?"
)

// StoreConfig carries the dependencies for a Store.
type StoreConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Store exposes the record-store operations the hub applies mutations
// through: CRUD for playlists and memberships, atomic vote increments, and
// the bulk-clear used by activation.
type Store struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewStore validates the configuration and returns a Store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, newStoreError(opStoreNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newStoreError(opStoreNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Store{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// Tracks lists the full catalog ordered by title.
func (s *Store) Tracks(ctx context.Context) ([]Track, error) {
	var tracks []Track
	if err := s.db.WithContext(ctx).Order(orderTitleAsc).Find(&tracks).Error; err != nil {
		return nil, newStoreError(opListTracks, reasonQueryFailed, err)
	}
	return tracks, nil
}

// Playlists lists all playlists ordered by creation time.
func (s *Store) Playlists(ctx context.Context) ([]Playlist, error) {
	var playlists []Playlist
	if err := s.db.WithContext(ctx).Order(orderCreatedAtAsc).Find(&playlists).Error; err != nil {
		return nil, newStoreError(opListPlaylists, reasonQueryFailed, err)
	}
	return playlists, nil
}

// DefaultPlaylist returns the oldest playlist, the fallback target when a
// request names none.
func (s *Store) DefaultPlaylist(ctx context.Context) (*Playlist, error) {
	var playlist Playlist
	err := s.db.WithContext(ctx).Order(orderCreatedAtAsc).Take(&playlist).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPlaylistNotFound
	}
	if err != nil {
		return nil, newStoreError(opListPlaylists, reasonQueryFailed, err)
	}
	return &playlist, nil
}

// CreatePlaylist persists a new named playlist.
func (s *Store) CreatePlaylist(ctx context.Context, name, description string) (*Playlist, error) {
	if name == "" {
		return nil, ErrInvalidName
	}
	id, err := s.idProvider.NewID()
	if err != nil {
		return nil, newStoreError(opCreatePlaylist, "id_generation_failed", err)
	}
	playlist := Playlist{
		ID:          id,
		Name:        name,
		Description: description,
		CreatedAt:   s.clock().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&playlist).Error; err != nil {
		return nil, newStoreError(opCreatePlaylist, reasonWriteFailed, err)
	}
	return &playlist, nil
}

// DeletePlaylist removes a playlist and its memberships.
func (s *Store) DeletePlaylist(ctx context.Context, playlistID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var playlist Playlist
		err := tx.Where(queryByID, playlistID).Take(&playlist).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrPlaylistNotFound
		}
		if err != nil {
			return newStoreError(opDeletePlaylist, reasonQueryFailed, err)
		}
		if err := tx.Where(queryByPlaylist, playlistID).Delete(&PlaylistTrack{}).Error; err != nil {
			return newStoreError(opDeletePlaylist, reasonWriteFailed, err)
		}
		if err := tx.Delete(&playlist).Error; err != nil {
			return newStoreError(opDeletePlaylist, reasonWriteFailed, err)
		}
		return nil
	})
}

// PlaylistItems lists a playlist's memberships ordered by position, joined
// with their tracks.
func (s *Store) PlaylistItems(ctx context.Context, playlistID string) ([]PlaylistEntry, error) {
	var items []PlaylistTrack
	err := s.db.WithContext(ctx).
		Where(queryByPlaylist, playlistID).
		Order(orderPositionAsc).
		Find(&items).Error
	if err != nil {
		return nil, newStoreError(opListItems, reasonQueryFailed, err)
	}

	trackIDs := make([]string, 0, len(items))
	for _, item := range items {
		trackIDs = append(trackIDs, item.TrackID)
	}
	tracksByID := make(map[string]Track, len(trackIDs))
	if len(trackIDs) > 0 {
		var tracks []Track
		if err := s.db.WithContext(ctx).Where("id IN ?", trackIDs).Find(&tracks).Error; err != nil {
			return nil, newStoreError(opListItems, reasonQueryFailed, err)
		}
		for _, track := range tracks {
			tracksByID[track.ID] = track
		}
	}

	entries := make([]PlaylistEntry, 0, len(items))
	for _, item := range items {
		entries = append(entries, PlaylistEntry{PlaylistTrack: item, Track: tracksByID[item.TrackID]})
	}
	return entries, nil
}

// AddItem appends a track to the end of a playlist. It rejects duplicates for
// the (playlist, track) pair and unknown tracks or playlists.
func (s *Store) AddItem(ctx context.Context, playlistID, trackID, addedBy string) (*PlaylistEntry, error) {
	var entry *PlaylistEntry
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var playlist Playlist
		if err := tx.Where(queryByID, playlistID).Take(&playlist).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrPlaylistNotFound
			}
			return newStoreError(opAddItem, reasonQueryFailed, err)
		}

		var track Track
		if err := tx.Where(queryByID, trackID).Take(&track).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrTrackNotFound
			}
			return newStoreError(opAddItem, reasonQueryFailed, err)
		}

		var duplicates int64
		err := tx.Model(&PlaylistTrack{}).
			Where("playlist_id = ? AND track_id = ?", playlistID, trackID).
			Count(&duplicates).Error
		if err != nil {
			return newStoreError(opAddItem, reasonQueryFailed, err)
		}
		if duplicates > 0 {
			return ErrDuplicateItem
		}

		var last PlaylistTrack
		var appendAfter *float64
		err = tx.Where(queryByPlaylist, playlistID).Order("position DESC").Take(&last).Error
		if err == nil {
			appendAfter = &last.Position
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return newStoreError(opAddItem, reasonQueryFailed, err)
		}

		id, err := s.idProvider.NewID()
		if err != nil {
			return newStoreError(opAddItem, "id_generation_failed", err)
		}
		item := PlaylistTrack{
			ID:         id,
			PlaylistID: playlistID,
			TrackID:    trackID,
			Position:   position.Allocate(appendAfter, nil),
			AddedBy:    addedBy,
			AddedAt:    s.clock().UTC(),
		}
		if err := tx.Create(&item).Error; err != nil {
			return newStoreError(opAddItem, reasonWriteFailed, err)
		}
		entry = &PlaylistEntry{PlaylistTrack: item, Track: track}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// RemoveItem deletes a membership and returns its owning playlist id.
func (s *Store) RemoveItem(ctx context.Context, itemID string) (string, error) {
	item, err := s.takeItem(ctx, s.db, opRemoveItem, itemID)
	if err != nil {
		return "", err
	}
	if err := s.db.WithContext(ctx).Delete(item).Error; err != nil {
		return "", newStoreError(opRemoveItem, reasonWriteFailed, err)
	}
	return item.PlaylistID, nil
}

// MoveItem overwrites a membership's ordering key with the client-computed
// absolute position.
func (s *Store) MoveItem(ctx context.Context, itemID string, newPosition float64) (*PlaylistTrack, error) {
	item, err := s.takeItem(ctx, s.db, opMoveItem, itemID)
	if err != nil {
		return nil, err
	}
	err = s.db.WithContext(ctx).Model(item).Update(columnPosition, newPosition).Error
	if err != nil {
		return nil, newStoreError(opMoveItem, reasonWriteFailed, err)
	}
	item.Position = newPosition
	return item, nil
}

// Activate marks a membership as playing and clears the flag on every sibling
// in the same playlist inside one transaction, so no observer can read two
// active memberships.
func (s *Store) Activate(ctx context.Context, itemID string) (*PlaylistTrack, error) {
	var activated *PlaylistTrack
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		item, err := s.takeItem(ctx, tx, opActivateItem, itemID)
		if err != nil {
			return err
		}
		err = tx.Model(&PlaylistTrack{}).
			Where("playlist_id = ? AND id <> ? AND is_playing = ?", item.PlaylistID, itemID, true).
			Update(columnIsPlaying, false).Error
		if err != nil {
			return newStoreError(opActivateItem, reasonWriteFailed, err)
		}
		playedAt := s.clock().UTC()
		err = tx.Model(item).Updates(map[string]interface{}{
			columnIsPlaying: true,
			"played_at":     playedAt,
		}).Error
		if err != nil {
			return newStoreError(opActivateItem, reasonWriteFailed, err)
		}
		item.IsPlaying = true
		item.PlayedAt = &playedAt
		activated = item
		return nil
	})
	if err != nil {
		return nil, err
	}
	return activated, nil
}

// VoteResult carries the authoritative counter after a vote.
type VoteResult struct {
	ItemID     string
	TrackID    string
	PlaylistID string
	Votes      int64
}

// Vote applies a directional increment to the shared counter of the track
// referenced by a membership. The increment is pushed into the store as an
// expression, never computed client-side and overwritten, so concurrent votes
// commute.
func (s *Store) Vote(ctx context.Context, itemID string, direction VoteDirection) (*VoteResult, error) {
	if direction != VoteUp && direction != VoteDown {
		return nil, ErrInvalidDirection
	}
	var result *VoteResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		item, err := s.takeItem(ctx, tx, opVote, itemID)
		if err != nil {
			return err
		}
		err = tx.Model(&Track{}).
			Where(queryByID, item.TrackID).
			Update(columnVotes, gorm.Expr(expressionVoteStep, direction.Delta())).Error
		if err != nil {
			return newStoreError(opVote, reasonWriteFailed, err)
		}
		var track Track
		if err := tx.Where(queryByID, item.TrackID).Take(&track).Error; err != nil {
			return newStoreError(opVote, reasonQueryFailed, err)
		}
		result = &VoteResult{
			ItemID:     item.ID,
			TrackID:    track.ID,
			PlaylistID: item.PlaylistID,
			Votes:      track.Votes,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// RenormalizePositions reassigns integer-spaced positions to a playlist's
// memberships without changing their observed order, restoring the gap budget
// consumed by repeated fractional inserts. It returns the number of rows
// rewritten.
func (s *Store) RenormalizePositions(ctx context.Context, playlistID string) (int, error) {
	rewritten := 0
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var items []PlaylistTrack
		err := tx.Where(queryByPlaylist, playlistID).Order(orderPositionAsc).Find(&items).Error
		if err != nil {
			return newStoreError(opRenormalize, reasonQueryFailed, err)
		}
		spaced := position.Renormalized(len(items))
		for i := range items {
			if items[i].Position == spaced[i] {
				continue
			}
			err := tx.Model(&items[i]).Update(columnPosition, spaced[i]).Error
			if err != nil {
				return newStoreError(opRenormalize, reasonWriteFailed, err)
			}
			rewritten++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if rewritten > 0 {
		s.logger.Info("playlist positions renormalized",
			zap.String("playlist_id", playlistID),
			zap.Int("rewritten", rewritten))
	}
	return rewritten, nil
}

func (s *Store) takeItem(ctx context.Context, db *gorm.DB, operation, itemID string) (*PlaylistTrack, error) {
	var item PlaylistTrack
	err := db.WithContext(ctx).Where(queryByID, itemID).Take(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrItemNotFound, itemID)
	}
	if err != nil {
		return nil, newStoreError(operation, reasonQueryFailed, err)
	}
	return &item, nil
}
