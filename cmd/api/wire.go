package main

import (
	"context"
	"fmt"

	"github.com/clinic-notify/internal/application/campaign"
	"github.com/clinic-notify/internal/application/dispatch"
	"github.com/clinic-notify/internal/application/notification"
	"github.com/clinic-notify/internal/application/stats"
	"github.com/clinic-notify/internal/application/template"
	"github.com/clinic-notify/internal/config"
	"github.com/clinic-notify/internal/domain"
	"github.com/clinic-notify/internal/infrastructure/dynamo"
	"github.com/clinic-notify/internal/infrastructure/fcm"
	"github.com/clinic-notify/internal/infrastructure/memory"
	"github.com/clinic-notify/internal/infrastructure/postgres"
	"github.com/clinic-notify/internal/infrastructure/redisq"
	s3infra "github.com/clinic-notify/internal/infrastructure/s3"
	"github.com/clinic-notify/internal/infrastructure/ses"
	"github.com/clinic-notify/internal/infrastructure/smtp"
	"github.com/clinic-notify/internal/infrastructure/sns"
	"github.com/clinic-notify/internal/infrastructure/twilio"
	"go.uber.org/zap"
)

type stores struct {
	templates     template.Repository
	notifications notification.Store
	campaigns     campaign.Repository
	stats         stats.Store
	directory     campaign.Directory
	snapshots     campaign.SnapshotStore
	closers       []func()
}

func (s *stores) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func openStores(ctx context.Context, cfg *config.Config, log *zap.Logger) (*stores, error) {
	st := &stores{}
	switch cfg.StoreBackend {
	case "dynamo":
		client, err := dynamo.NewClient(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("dynamo client: %w", err)
		}
		dynamo.Bootstrap(ctx, client, cfg.DynamoTables, log)
		t := cfg.DynamoTables
		st.templates = dynamo.NewTemplateRepo(client, t.Templates)
		st.notifications = dynamo.NewNotificationRepo(client, t.Notifications)
		st.campaigns = dynamo.NewCampaignRepo(client, t.Campaigns)
		st.stats = dynamo.NewStatsRepo(client, t.Events, t.Stats)
	case "memory":
		log.Warn("using in-memory stores; state is lost on restart")
		st.templates = memory.NewTemplateRepo()
		st.notifications = memory.NewNotificationRepo()
		st.campaigns = memory.NewCampaignRepo()
		st.stats = memory.NewStatsRepo()
	default:
		return nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}

	if cfg.S3BucketName != "" && cfg.StoreBackend == "dynamo" {
		client, err := s3infra.NewClient(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("s3 client: %w", err)
		}
		st.snapshots = s3infra.NewSnapshotStore(client, cfg.S3BucketName)
	} else {
		st.snapshots = memory.NewSnapshotStore()
	}

	if cfg.DirectoryDSN != "" {
		db, err := postgres.Open(cfg.DirectoryDSN)
		if err != nil {
			return nil, fmt.Errorf("patient directory: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("patient directory: %w", err)
		}
		st.directory = postgres.NewDirectory(db)
		st.closers = append(st.closers, func() { _ = db.Close() })
	} else {
		log.Warn("DIRECTORY_DSN not set; segment audiences resolve to nobody")
		st.directory = memory.NewDirectory(nil)
	}
	return st, nil
}

type dispatchQueue interface {
	notification.Queue
	dispatch.Queue
}

func openQueue(ctx context.Context, cfg *config.Config, log *zap.Logger) (dispatchQueue, func(), error) {
	switch cfg.QueueBackend {
	case "redis":
		rdb := redisq.NewClient(cfg)
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, fmt.Errorf("redis ping: %w", err)
		}
		return redisq.New(rdb, "notify:queue"), func() { _ = rdb.Close() }, nil
	case "memory":
		log.Warn("using in-memory queue; run a single instance only")
		return memory.NewQueue(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown QUEUE_BACKEND %q", cfg.QueueBackend)
	}
}

func buildSenders(ctx context.Context, cfg *config.Config, log *zap.Logger) (map[domain.Channel]dispatch.Sender, error) {
	senders := map[domain.Channel]dispatch.Sender{
		domain.ChannelInApp: notification.NewInboxSender(),
	}

	switch cfg.EmailProvider {
	case "ses":
		client, err := ses.NewClient(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("ses client: %w", err)
		}
		senders[domain.ChannelEmail] = ses.NewSender(client, cfg.SMTPFrom)
	case "smtp", "":
		senders[domain.ChannelEmail] = smtp.NewMailer(cfg)
	default:
		return nil, fmt.Errorf("unknown EMAIL_PROVIDER %q", cfg.EmailProvider)
	}

	switch cfg.SMSProvider {
	case "twilio":
		if cfg.TwilioAccountSID == "" {
			log.Warn("TWILIO_ACCOUNT_SID not set; SMS channel disabled")
			break
		}
		senders[domain.ChannelSMS] = twilio.NewFromConfig(cfg)
	case "sns", "":
		client, err := sns.NewClient(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("sns client: %w", err)
		}
		senders[domain.ChannelSMS] = sns.NewSender(client)
	default:
		return nil, fmt.Errorf("unknown SMS_PROVIDER %q", cfg.SMSProvider)
	}

	if cfg.FirebaseCredsPath != "" {
		client, err := fcm.NewClient(ctx, cfg.FirebaseCredsPath)
		if err != nil {
			return nil, fmt.Errorf("firebase messaging: %w", err)
		}
		senders[domain.ChannelPush] = fcm.NewSender(client)
	} else {
		log.Warn("FIREBASE_CREDENTIALS_PATH not set; push channel disabled")
	}
	return senders, nil
}
