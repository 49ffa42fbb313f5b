package catalog

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"gorm.io/gorm"
)

const defaultPlaylistName = "Main Playlist"

// SeedCatalog populates an empty store with the default playlist and a
// starter track library. Existing rows are left alone, so the seed is safe to
// run on every startup.
func (s *Store) SeedCatalog(ctx context.Context) error {
	if err := s.ensureDefaultPlaylist(ctx); err != nil {
		return err
	}
	return s.ensureSeedTracks(ctx)
}

func (s *Store) ensureDefaultPlaylist(ctx context.Context) error {
	_, err := s.DefaultPlaylist(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrPlaylistNotFound) {
		return err
	}
	_, err = s.CreatePlaylist(ctx, defaultPlaylistName, "Shared queue for the room")
	return err
}

func (s *Store) ensureSeedTracks(ctx context.Context) error {
	var existing int64
	if err := s.db.WithContext(ctx).Model(&Track{}).Count(&existing).Error; err != nil {
		return newStoreError(opListTracks, reasonQueryFailed, err)
	}
	if existing > 0 {
		return nil
	}

	tracks := seedTracks()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range tracks {
			id, err := s.idProvider.NewID()
			if err != nil {
				return newStoreError(opAddItem, "id_generation_failed", err)
			}
			tracks[i].ID = id
			tracks[i].CoverURL = coverURLFor(tracks[i].Title, tracks[i].Artist)
			if err := tx.Create(&tracks[i]).Error; err != nil {
				return newStoreError(opAddItem, reasonWriteFailed, err)
			}
		}
		return nil
	})
}

func coverURLFor(title, artist string) string {
	seed := url.QueryEscape(fmt.Sprintf("%s-%s", title, artist))
	return fmt.Sprintf("https://picsum.photos/seed/%s/300/300", seed)
}

func seedTracks() []Track {
	return []Track{
		{Title: "Like a Rolling Stone", Artist: "Bob Dylan", Album: "Highway 61 Revisited", DurationSeconds: 366, Genre: "Rock", Votes: 15},
		{Title: "Gimme Shelter", Artist: "The Rolling Stones", Album: "Let It Bleed", DurationSeconds: 271, Genre: "Rock", Votes: 12},
		{Title: "Bohemian Rhapsody", Artist: "Queen", Album: "A Night at the Opera", DurationSeconds: 355, Genre: "Rock", Votes: 20},
		{Title: "Comfortably Numb", Artist: "Pink Floyd", Album: "The Wall", DurationSeconds: 384, Genre: "Rock", Votes: 17},
		{Title: "Blinding Lights", Artist: "The Weeknd", Album: "After Hours", DurationSeconds: 200, Genre: "Pop", Votes: 22},
		{Title: "Billie Jean", Artist: "Michael Jackson", Album: "Thriller", DurationSeconds: 294, Genre: "Pop", Votes: 25},
		{Title: "Anti-Hero", Artist: "Taylor Swift", Album: "Midnights", DurationSeconds: 200, Genre: "Pop", Votes: 20},
		{Title: "Superstition", Artist: "Stevie Wonder", Album: "Talking Book", DurationSeconds: 267, Genre: "R&B", Votes: 14},
		{Title: "Respect", Artist: "Aretha Franklin", Album: "I Never Loved a Man the Way I Love You", DurationSeconds: 147, Genre: "R&B", Votes: 15},
		{Title: "Lose Yourself", Artist: "Eminem", Album: "8 Mile Soundtrack", DurationSeconds: 326, Genre: "Hip-Hop", Votes: 16},
		{Title: "Juicy", Artist: "The Notorious B.I.G.", Album: "Ready to Die", DurationSeconds: 313, Genre: "Hip-Hop", Votes: 15},
		{Title: "Smells Like Teen Spirit", Artist: "Nirvana", Album: "Nevermind", DurationSeconds: 301, Genre: "Alternative", Votes: 19},
		{Title: "Mr. Brightside", Artist: "The Killers", Album: "Hot Fuss", DurationSeconds: 222, Genre: "Alternative", Votes: 15},
		{Title: "One More Time", Artist: "Daft Punk", Album: "Discovery", DurationSeconds: 320, Genre: "Electronic", Votes: 16},
	}
}
