package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	tbapi "github.com/OvyFlash/telegram-bot-api"
	"github.com/fatih/color"
	"github.com/go-pkgz/lgr"
	"github.com/hashicorp/go-multierror"
	"github.com/jessevdk/go-flags"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/umputun/tg-guard/app/antispam"
	"github.com/umputun/tg-guard/app/events"
	"github.com/umputun/tg-guard/app/metrics"
	"github.com/umputun/tg-guard/app/storage"
	"github.com/umputun/tg-guard/app/storage/engine"
	"github.com/umputun/tg-guard/app/webapi"
	"github.com/umputun/tg-guard/lib/aiclient"
	"github.com/umputun/tg-guard/lib/moderation"
)

type options struct {
	Telegram struct {
		Token string `long:"token" env:"TOKEN" description:"telegram bot token" required:"true"`
	} `group:"telegram" namespace:"telegram" env-namespace:"TELEGRAM"`

	AdminGroup     string            `long:"admin.group" env:"ADMIN_GROUP" description:"admin group name or id for alerts"`
	AdminCooldown  time.Duration     `long:"admin.cooldown" env:"ADMIN_COOLDOWN" default:"1m" description:"min interval between admin alerts"`
	SuperUsers     events.SuperUsers `long:"super" env:"SUPER_USER" env-delim:"," description:"super-users, messages are never checked"`
	DB             string            `long:"db" env:"DB" default:"tg-guard.db" description:"database, sqlite file or postgres://... connection string"`

	AI struct {
		URL               string        `long:"url" env:"URL" description:"ai service url, ai checks disabled if not set"`
		Token             string        `long:"token" env:"TOKEN" description:"ai service token"`
		Model             string        `long:"model" env:"MODEL" default:"gpt-4o-mini" description:"ai model"`
		Timeout           time.Duration `long:"timeout" env:"TIMEOUT" default:"30s" description:"per-request timeout"`
		Concurrency       int           `long:"concurrency" env:"CONCURRENCY" default:"5" description:"max in-flight ai requests"`
		MaxTokensRequest  int           `long:"max-tokens-request" env:"MAX_TOKENS_REQUEST" default:"2048" description:"max tokens in request"`
		MaxSymbolsRequest int           `long:"max-symbols-request" env:"MAX_SYMBOLS_REQUEST" default:"8192" description:"max symbols in request, fallback if tokenizer failed"`
		Threshold         float64       `long:"threshold" env:"THRESHOLD" default:"0.8" description:"spam score threshold"`
		Temperature       float64       `long:"temperature" env:"TEMPERATURE" default:"0.2" description:"sampling temperature"`
		PromptFiles       []string      `long:"prompt-file" env:"PROMPT_FILES" env-delim:"," description:"prompt files, builtin prompt if not set"`
		FailPolicy        string        `long:"fail-policy" env:"FAIL_POLICY" choice:"permissive" choice:"closed" default:"permissive" description:"what to do with a message when ai check fails"`
	} `group:"ai" namespace:"ai" env-namespace:"AI"`

	Trust struct {
		MinTime     time.Duration `long:"min-time" env:"MIN_TIME" default:"24h" description:"min time in chat before user can be trusted"`
		MinMessages int           `long:"min-messages" env:"MIN_MESSAGES" default:"5" description:"min valid messages before user can be trusted"`
	} `group:"trust" namespace:"trust" env-namespace:"TRUST"`

	MaxEmoji int `long:"max-emoji" env:"MAX_EMOJI" default:"2" description:"max emoji count in message, -1 to disable check"`

	Queue struct {
		Size       int           `long:"size" env:"SIZE" default:"10000" description:"processing queue size"`
		Workers    int           `long:"workers" env:"WORKERS" default:"4" description:"number of workers"`
		DedupeTTL  time.Duration `long:"dedupe-ttl" env:"DEDUPE_TTL" default:"5m" description:"deduplication window"`
		DedupeSize int           `long:"dedupe-size" env:"DEDUPE_SIZE" default:"10000" description:"max entries in deduplication cache"`
	} `group:"queue" namespace:"queue" env-namespace:"QUEUE"`

	Logger struct {
		Enabled    bool   `long:"enabled" env:"ENABLED" description:"enable rotated spam log"`
		FileName   string `long:"file" env:"FILE" default:"tg-guard-spam.log" description:"location of spam log"`
		MaxSize    string `long:"max-size" env:"MAX_SIZE" default:"100M" description:"maximum size before it gets rotated"`
		MaxBackups int    `long:"max-backups" env:"MAX_BACKUPS" default:"10" description:"maximum number of old log files to retain"`
	} `group:"logger" namespace:"logger" env-namespace:"LOGGER"`

	Server struct {
		Enabled    bool   `long:"enabled" env:"ENABLED" description:"enable status web server"`
		ListenAddr string `long:"listen" env:"LISTEN" default:":8080" description:"listen address"`
		AuthPasswd string `long:"auth" env:"AUTH" description:"basic auth password for user tg-guard, disabled if not set"`
	} `group:"server" namespace:"server" env-namespace:"SERVER"`

	Dry   bool `long:"dry" env:"DRY" description:"dry mode, no deletions"`
	Dbg   bool `long:"dbg" env:"DEBUG" description:"debug mode"`
	TGDbg bool `long:"tg-dbg" env:"TG_DEBUG" description:"telegram debug mode"`
}

var revision = "local"

func main() {
	fmt.Printf("tg-guard %s\n", revision)
	var opts options
	p := flags.NewParser(&opts, flags.PrintErrors|flags.PassDoubleDash|flags.HelpFlag)
	p.SubcommandsOptional = true
	if _, err := p.Parse(); err != nil {
		var flagsErr *flags.Error
		if !errors.As(err, &flagsErr) || flagsErr.Type != flags.ErrHelp {
			log.Printf("[ERROR] cli error: %v", err)
		}
		os.Exit(2)
	}

	setupLog(opts.Dbg, opts.Telegram.Token, opts.AI.Token)
	log.Printf("[DEBUG] options: %+v", opts)

	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		// catch signal and invoke graceful termination
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		<-stop
		log.Printf("[WARN] interrupt signal")
		cancel()
	}()

	if err := execute(ctx, opts); err != nil {
		log.Printf("[ERROR] %v", err)
		os.Exit(1)
	}
}

func execute(ctx context.Context, opts options) error {
	if opts.Dry {
		log.Print("[WARN] dry mode, no actual deletions")
	}

	tbAPI, err := tbapi.NewBotAPI(opts.Telegram.Token)
	if err != nil {
		return fmt.Errorf("can't make telegram bot, %w", err)
	}
	tbAPI.Debug = opts.TGDbg
	log.Printf("[INFO] bot authorized as %s", tbAPI.Self.UserName)

	db, err := engine.New(ctx, opts.DB)
	if err != nil {
		return fmt.Errorf("can't open database, %w", err)
	}
	store, err := storage.New(ctx, db)
	if err != nil {
		return fmt.Errorf("can't make store, %w", err)
	}

	prom := metrics.NewProm()

	moderator, err := makeModerator(ctx, opts)
	if err != nil {
		return err
	}

	adminChatID := int64(0)
	if opts.AdminGroup != "" {
		if adminChatID, err = events.ResolveChatID(tbAPI, opts.AdminGroup); err != nil {
			return fmt.Errorf("can't resolve admin chat %q, %w", opts.AdminGroup, err)
		}
		log.Printf("[INFO] admin alerts to chat %d", adminChatID)
	}

	loggerWr, err := makeSpamLogWriter(opts)
	if err != nil {
		return fmt.Errorf("can't make spam log writer, %w", err)
	}

	processor := antispam.NewProcessor(antispam.ProcessorParams{
		Deleter:          &events.Deleter{TbAPI: tbAPI, BotID: tbAPI.Self.ID, Dry: opts.Dry},
		Moderator:        moderator,
		Notifier:         events.NewNotifier(tbAPI, adminChatID, opts.AdminCooldown),
		SpamLogger:       makeSpamLogger(loggerWr),
		Metrics:          prom,
		MinTimeInChat:    opts.Trust.MinTime,
		MinValidMessages: opts.Trust.MinMessages,
		MaxEmoji:         opts.MaxEmoji,
		AIEnabled:        opts.AI.URL != "",
		FailPolicy:       antispam.FailPolicy(opts.AI.FailPolicy),
	})

	svc := antispam.NewService(antispam.ServiceParams{
		Processor: processor,
		Sessions:  store,
		Dedupe:    moderation.NewDedupe(opts.Queue.DedupeTTL, opts.Queue.DedupeSize),
		Metrics:   prom,
		QueueSize: opts.Queue.Size,
		Workers:   opts.Queue.Workers,
	})
	svc.Start(ctx)

	if opts.Server.Enabled {
		web := webapi.NewServer(webapi.Config{
			Version:          revision,
			ListenAddr:       opts.Server.ListenAddr,
			Stats:            prom,
			Queue:            svc,
			Trusted:          store,
			MetricsHandler:   prom.Handler(),
			AuthPasswd:       opts.Server.AuthPasswd,
			MinTimeInChat:    opts.Trust.MinTime,
			MinValidMessages: opts.Trust.MinMessages,
		})
		go func() {
			if werr := web.Run(ctx); werr != nil {
				log.Printf("[ERROR] web server failed: %v", werr)
			}
		}()
	}

	listener := &events.TelegramListener{TbAPI: tbAPI, Queue: svc, SuperUsers: opts.SuperUsers}
	var result *multierror.Error
	if err := listener.Do(ctx); err != nil && !errors.Is(err, context.Canceled) {
		result = multierror.Append(result, fmt.Errorf("telegram listener failed: %w", err))
	}

	svc.Stop() // drain the queue before closing shared resources
	if err := loggerWr.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("can't close spam log: %w", err))
	}
	if err := db.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("can't close database: %w", err))
	}
	return result.ErrorOrNil()
}

// makeModerator builds the prompt cascade with the AI scorer. With no AI url
// the scorer has no client, but the pipeline never reaches it as the global
// AI switch is off.
func makeModerator(ctx context.Context, opts options) (*moderation.Moderator, error) {
	var client moderation.AIClient
	if opts.AI.URL != "" {
		log.Printf("[WARN] ai checks enabled, url: %s, model: %s", opts.AI.URL, opts.AI.Model)
		client = aiclient.New(aiclient.Config{
			BaseURL:           opts.AI.URL,
			APIKey:            opts.AI.Token,
			Model:             opts.AI.Model,
			Timeout:           opts.AI.Timeout,
			Concurrency:       opts.AI.Concurrency,
			MaxTokensRequest:  opts.AI.MaxTokensRequest,
			MaxSymbolsRequest: opts.AI.MaxSymbolsRequest,
		})
	}

	prompts := moderation.NewPromptSet(moderation.DefaultPrompt)
	if len(opts.AI.PromptFiles) > 0 {
		loaded, err := moderation.LoadPromptSet(opts.AI.PromptFiles...)
		if err != nil {
			return nil, fmt.Errorf("can't load prompts, %w", err)
		}
		prompts = loaded
		go func() {
			if err := prompts.Watch(ctx); err != nil {
				log.Printf("[WARN] prompt watcher stopped: %v", err)
			}
		}()
	}

	scorer := moderation.NewScorer(client, float32(opts.AI.Temperature))
	return moderation.NewModerator(scorer, prompts, opts.AI.Threshold), nil
}

type spamLoggerFunc func(task moderation.Task, reason string)

// Save records the deleted message
func (f spamLoggerFunc) Save(task moderation.Task, reason string) { f(task, reason) }

// makeSpamLogger creates the audit logger for deleted messages, it writes
// json lines to the provided writer
func makeSpamLogger(wr io.Writer) antispam.SpamLogger {
	return spamLoggerFunc(func(task moderation.Task, reason string) {
		text := strings.TrimSpace(strings.ReplaceAll(task.Text, "\n", " "))
		m := struct {
			TimeStamp string `json:"ts"`
			ChatID    int64  `json:"chat_id"`
			MessageID int    `json:"msg_id"`
			UserID    int64  `json:"user_id"`
			Reason    string `json:"reason"`
			Text      string `json:"text"`
		}{
			TimeStamp: time.Now().In(time.Local).Format(time.RFC3339),
			ChatID:    task.ChatID,
			MessageID: task.MessageID,
			UserID:    task.UserID,
			Reason:    reason,
			Text:      text,
		}
		line, err := json.Marshal(&m)
		if err != nil {
			log.Printf("[WARN] can't marshal json, %v", err)
			return
		}
		if _, err := wr.Write(append(line, '\n')); err != nil {
			log.Printf("[WARN] can't write to spam log, %v", err)
		}
	})
}

// makeSpamLogWriter creates the rotated writer for the spam log, discarding
// everything when the logger is disabled
func makeSpamLogWriter(opts options) (spamLog io.WriteCloser, err error) {
	if !opts.Logger.Enabled {
		return nopWriteCloser{io.Discard}, nil
	}

	sizeParse := func(inp string) (uint64, error) {
		if inp == "" {
			return 0, errors.New("empty value")
		}
		for i, sfx := range []string{"k", "m", "g", "t"} {
			if strings.HasSuffix(inp, strings.ToUpper(sfx)) || strings.HasSuffix(inp, strings.ToLower(sfx)) {
				val, err := strconv.Atoi(inp[:len(inp)-1])
				if err != nil {
					return 0, fmt.Errorf("can't parse %s: %w", inp, err)
				}
				return uint64(float64(val) * math.Pow(float64(1024), float64(i+1))), nil
			}
		}
		return strconv.ParseUint(inp, 10, 64)
	}

	maxSize, perr := sizeParse(opts.Logger.MaxSize)
	if perr != nil {
		return nil, fmt.Errorf("can't parse logger MaxSize: %w", perr)
	}

	maxSize /= 1048576

	log.Printf("[INFO] spam log enabled for %s, max size %dM", opts.Logger.FileName, maxSize)
	return &lumberjack.Logger{
		Filename:   opts.Logger.FileName,
		MaxSize:    int(maxSize), // in MB
		MaxBackups: opts.Logger.MaxBackups,
		Compress:   true,
		LocalTime:  true,
	}, nil
}

type nopWriteCloser struct{ io.Writer }

func (n nopWriteCloser) Close() error { return nil }

func setupLog(dbg bool, secrets ...string) {
	logOpts := []lgr.Option{lgr.Msec, lgr.LevelBraces, lgr.StackTraceOnError}
	if dbg {
		logOpts = []lgr.Option{lgr.Debug, lgr.CallerFile, lgr.CallerFunc, lgr.Msec, lgr.LevelBraces, lgr.StackTraceOnError}
	}

	colorizer := lgr.Mapper{
		ErrorFunc:  func(s string) string { return color.New(color.FgHiRed).Sprint(s) },
		WarnFunc:   func(s string) string { return color.New(color.FgRed).Sprint(s) },
		InfoFunc:   func(s string) string { return color.New(color.FgYellow).Sprint(s) },
		DebugFunc:  func(s string) string { return color.New(color.FgWhite).Sprint(s) },
		CallerFunc: func(s string) string { return color.New(color.FgBlue).Sprint(s) },
		TimeFunc:   func(s string) string { return color.New(color.FgCyan).Sprint(s) },
	}
	logOpts = append(logOpts, lgr.Map(colorizer))

	for _, s := range secrets {
		if s != "" {
			logOpts = append(logOpts, lgr.Secret(s))
		}
	}
	lgr.SetupStdLogger(logOpts...)
	lgr.Setup(logOpts...)
}
