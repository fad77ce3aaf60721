// Package app wires the client components together: config, history
// cache, API client, broker session, message synchronizer, and voice.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/harborchat/harbor/internal/api"
	"github.com/harborchat/harbor/internal/chat"
	"github.com/harborchat/harbor/internal/config"
	"github.com/harborchat/harbor/internal/storage"
	"github.com/harborchat/harbor/internal/transport"
	"github.com/harborchat/harbor/internal/util"
	"github.com/harborchat/harbor/internal/voice"
)

type Options struct {
	// ClientDir anchors relative paths from the config.
	ClientDir string

	// CfgPath is the config file location, watched for live reload.
	CfgPath string

	Cfg config.Config
}

// Run builds the object graph and blocks until ctx is done. Teardown runs
// in reverse construction order.
func Run(ctx context.Context, opt Options) error {
	cfg := opt.Cfg

	db, err := storage.Open(util.ResolvePath(opt.ClientDir, cfg.Paths.DataDir))
	if err != nil {
		return fmt.Errorf("open history cache: %w", err)
	}
	defer db.Close()

	client := api.NewClient(cfg.Server.APIBaseURL)
	self := chat.Sender{ID: cfg.Identity.UserID, Username: cfg.Identity.Username}

	// The session dispatches into the synchronizer; the synchronizer
	// publishes through the session. Close the cycle with a late-bound
	// handler.
	var chatMgr *chat.Manager
	session := transport.New(cfg.Server.BrokerURL, transport.Handlers{
		OnChannelEvent: func(evt transport.ChannelEvent) {
			chatMgr.HandleEvent(evt)
		},
		OnGlobal: func(body json.RawMessage) {
			log.Printf("APP: broadcast: %s", body)
		},
	})
	chatMgr = chat.NewManager(session, self)

	var voiceMgr *voice.Manager
	if !cfg.Voice.Disabled {
		voiceMgr = voice.NewManager(session, client, voice.Identity{
			UserID:   cfg.Identity.UserID,
			Username: cfg.Identity.Username,
		})
		defer voiceMgr.Close()
	}

	// Persist confirmed messages as they flow through the synchronizer.
	events, cancelEvents := chatMgr.Subscribe()
	defer cancelEvents()
	go persistEvents(db, events)

	if err := session.Connect(ctx); err != nil {
		return err
	}
	defer session.Disconnect()

	if channels, err := client.Channels(ctx); err != nil {
		log.Printf("APP: fetch channel list: %v", err)
	} else {
		log.Printf("APP: server has %d channels", len(channels))
	}

	subscribeChannels(session, chatMgr, db, cfg.Chat.Channels, cfg.Chat.HistoryLimit)

	// Live reload: follow channel membership changes in the config file.
	go func() {
		current := cfg.Chat.Channels
		err := config.Watch(ctx, opt.CfgPath, func(next config.Config) {
			added, removed := diffChannels(current, next.Chat.Channels)
			subscribeChannels(session, chatMgr, db, added, next.Chat.HistoryLimit)
			for _, id := range removed {
				session.UnsubscribeFromChannel(id)
			}
			current = next.Chat.Channels
		})
		if err != nil {
			log.Printf("APP: config watch: %v", err)
		}
	}()

	log.Printf("APP: running as %s (uid %d)", cfg.Identity.Username, cfg.Identity.UserID)
	<-ctx.Done()
	log.Printf("APP: shutting down")
	return nil
}

// subscribeChannels seeds each channel from the local cache, then opens its
// broker subscription.
func subscribeChannels(session *transport.Session, chatMgr *chat.Manager, db *storage.DB, ids []string, historyLimit int) {
	for _, id := range ids {
		if history, err := db.History(id, historyLimit); err != nil {
			log.Printf("APP: load history for %s: %v", id, err)
		} else if len(history) > 0 {
			chatMgr.SetHistory(id, history)
		}
		session.SubscribeToChannel(id)
	}
}

// persistEvents drains the synchronizer's event stream into the cache.
func persistEvents(db *storage.DB, events <-chan chat.Event) {
	for evt := range events {
		switch evt.Type {
		case chat.EventAdded, chat.EventUpdated:
			if err := db.SaveMessage(evt.Message); err != nil {
				log.Printf("APP: cache message: %v", err)
			}
		case chat.EventRemoved:
			if err := db.PurgeMessage(evt.ChannelID, evt.Message.ID); err != nil {
				log.Printf("APP: purge message: %v", err)
			}
		}
	}
}

// diffChannels returns the ids present only in next (added) and only in
// current (removed).
func diffChannels(current, next []string) (added, removed []string) {
	cur := make(map[string]struct{}, len(current))
	for _, id := range current {
		cur[id] = struct{}{}
	}
	nxt := make(map[string]struct{}, len(next))
	for _, id := range next {
		nxt[id] = struct{}{}
	}
	for _, id := range next {
		if _, ok := cur[id]; !ok {
			added = append(added, id)
		}
	}
	for _, id := range current {
		if _, ok := nxt[id]; !ok {
			removed = append(removed, id)
		}
	}
	return added, removed
}
