// Package scraper fetches a bounded window of recent messages and their
// images from each configured Telegram channel and merges them into the
// per-(channel, day) message store.
//
// Channels are processed one at a time, gated by a rate limiter, to
// respect Telegram's limits. A failure on one channel is logged and does
// not abort the others.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/medscrape/telegram-warehouse/internal/config"
	"github.com/medscrape/telegram-warehouse/internal/domain"
	"github.com/medscrape/telegram-warehouse/internal/observability"
	"github.com/medscrape/telegram-warehouse/internal/store"
)

// ErrChannelNotFound indicates the channel was not found.
var ErrChannelNotFound = errors.New("channel not found")

// ErrNotAChannel indicates the resolved peer is not a channel.
var ErrNotAChannel = errors.New("peer is not a channel")

type Scraper struct {
	cfg     *config.Config
	store   *store.Store
	logger  *zerolog.Logger
	limiter *rate.Limiter
}

func New(cfg *config.Config, st *store.Store, logger *zerolog.Logger) *Scraper {
	rps := cfg.RateRPS
	if rps <= 0 {
		rps = 1
	}

	return &Scraper{
		cfg:     cfg,
		store:   st,
		logger:  logger,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
	}
}

// Run authenticates and scrapes every configured channel once, merging the
// fetched messages into today's partitions.
func (s *Scraper) Run(ctx context.Context) error {
	client := telegram.NewClient(s.cfg.TGAPIID, s.cfg.TGAPIHash, telegram.Options{
		SessionStorage: &telegram.FileSessionStorage{
			Path: s.cfg.TGSessionPath,
		},
	})

	return client.Run(ctx, func(ctx context.Context) error {
		if err := client.Auth().IfNecessary(ctx, s.authFlow()); err != nil {
			return fmt.Errorf("telegram auth: %w", err)
		}

		s.logger.Info().Msg("Successfully authenticated as user")

		api := tg.NewClient(client)
		day := time.Now()

		for _, raw := range s.cfg.Channels {
			username := ChannelUsername(raw)
			if username == "" {
				s.logger.Warn().Str("channel", raw).Msg("skipping unrecognized channel reference")

				continue
			}

			if err := s.limiter.Wait(ctx); err != nil {
				return err
			}

			count, err := s.scrapeChannel(ctx, api, username, day)
			if err != nil {
				s.logger.Error().Str("channel", username).Err(err).Msg("failed to scrape channel")
				observability.ChannelFetchErrors.WithLabelValues(username).Inc()

				continue
			}

			s.logger.Info().Str("channel", username).Int("merged", count).Msg("Scraped channel")
		}

		s.logger.Info().Msg("Scraping completed for all channels")

		return nil
	})
}

// ChannelUsername normalizes a channel reference: bare usernames,
// @usernames, and https://t.me/<name> URLs all map to the username.
func ChannelUsername(ref string) string {
	ref = strings.TrimSpace(ref)

	for _, prefix := range []string{"https://t.me/", "http://t.me/", "t.me/", "@"} {
		if strings.HasPrefix(ref, prefix) {
			ref = strings.TrimPrefix(ref, prefix)

			break
		}
	}

	return strings.Trim(ref, "/")
}

func (s *Scraper) scrapeChannel(ctx context.Context, api *tg.Client, username string, day time.Time) (int, error) {
	resolved, err := api.ContactsResolveUsername(ctx, &tg.ContactsResolveUsernameRequest{Username: username})
	if err != nil {
		return 0, fmt.Errorf("resolve username: %w", err)
	}

	if len(resolved.Chats) == 0 {
		return 0, fmt.Errorf("%w: %s", ErrChannelNotFound, username)
	}

	channel, ok := resolved.Chats[0].(*tg.Channel)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNotAChannel, username)
	}

	peer := &tg.InputPeerChannel{
		ChannelID:  channel.ID,
		AccessHash: channel.AccessHash,
	}

	history, err := api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
		Peer:  peer,
		Limit: s.cfg.FetchLimit,
	})
	if err != nil {
		floodErr, ok := tgerr.As(err)
		if ok && floodErr.Type == "FLOOD_WAIT" {
			s.logger.Warn().Int("seconds", floodErr.Argument).Str("channel", username).Msg("flood wait")

			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(time.Duration(floodErr.Argument) * time.Second):
			}

			return 0, nil
		}

		return 0, fmt.Errorf("get history: %w", err)
	}

	var messages []tg.MessageClass

	switch h := history.(type) {
	case *tg.MessagesMessages:
		messages = h.Messages
	case *tg.MessagesMessagesSlice:
		messages = h.Messages
	case *tg.MessagesChannelMessages:
		messages = h.Messages
	case *tg.MessagesMessagesNotModified:
		return 0, nil
	}

	incoming := make([]domain.Message, 0, len(messages))

	for _, m := range messages {
		msg, ok := m.(*tg.Message)
		if !ok {
			continue
		}

		record := domain.Message{
			MessageID:    int64(msg.ID),
			ChannelName:  username,
			ChannelTitle: channel.Title,
			Date:         time.Unix(int64(msg.Date), 0).UTC(),
			Text:         msg.Message,
			Views:        msg.Views,
			Forwards:     msg.Forwards,
			HasMedia:     msg.Media != nil,
		}

		if photo := messagePhoto(msg); photo != nil {
			path, err := s.downloadPhoto(ctx, api, photo, username, msg.ID)
			if err != nil {
				s.logger.Warn().Str("channel", username).Int("msg_id", msg.ID).Err(err).
					Msg("failed to download image")
			} else {
				record.ImagePath = path
			}
		}

		incoming = append(incoming, record)
		observability.MessagesScraped.WithLabelValues(username).Inc()
	}

	merged, err := s.store.MergeDay(username, day, incoming)
	if err != nil {
		return 0, fmt.Errorf("merge messages: %w", err)
	}

	return len(merged), nil
}

// messagePhoto returns the photo attached to a message, or nil when the
// message has no downloadable photo.
func messagePhoto(msg *tg.Message) *tg.Photo {
	media, ok := msg.Media.(*tg.MessageMediaPhoto)
	if !ok {
		return nil
	}

	photo, ok := media.Photo.(*tg.Photo)
	if !ok {
		return nil
	}

	return photo
}

// downloadPhoto saves the largest size of the photo to
// <imagesDir>/<channel>/<message_id>.jpg. A file already on disk means the
// image was fetched on an earlier run and is never overwritten.
func (s *Scraper) downloadPhoto(ctx context.Context, api *tg.Client, photo *tg.Photo, channel string, msgID int) (string, error) {
	dir := filepath.Join(s.cfg.ImagesDir, channel)
	path := filepath.Join(dir, fmt.Sprintf("%d.jpg", msgID))

	if _, err := os.Stat(path); err == nil {
		return path, nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create image dir: %w", err)
	}

	thumbSize := largestPhotoSize(photo)
	if thumbSize == "" {
		return "", fmt.Errorf("photo %d has no downloadable size", photo.ID)
	}

	location := &tg.InputPhotoFileLocation{
		ID:            photo.ID,
		AccessHash:    photo.AccessHash,
		FileReference: photo.FileReference,
		ThumbSize:     thumbSize,
	}

	tmp := path + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("create image file: %w", err)
	}

	if _, err := downloader.NewDownloader().Download(api, location).Stream(ctx, f); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)

		return "", fmt.Errorf("download photo: %w", err)
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)

		return "", fmt.Errorf("close image file: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("place image file: %w", err)
	}

	observability.ImagesDownloaded.WithLabelValues(channel).Inc()
	s.logger.Debug().Str("path", path).Msg("Downloaded image")

	return path, nil
}

// largestPhotoSize picks the thumb type of the biggest available size.
func largestPhotoSize(photo *tg.Photo) string {
	var (
		thumbSize string
		maxArea   int
	)

	for _, size := range photo.Sizes {
		switch s := size.(type) {
		case *tg.PhotoSize:
			if s.W*s.H > maxArea {
				maxArea = s.W * s.H
				thumbSize = s.Type
			}
		case *tg.PhotoSizeProgressive:
			if s.W*s.H > maxArea {
				maxArea = s.W * s.H
				thumbSize = s.Type
			}
		}
	}

	return thumbSize
}
