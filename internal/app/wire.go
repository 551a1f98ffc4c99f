package app

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/humansinstitute/ambulando-sub000/internal/crypto"
	"github.com/humansinstitute/ambulando-sub000/internal/domain"
	"github.com/humansinstitute/ambulando-sub000/internal/relay"
	"github.com/humansinstitute/ambulando-sub000/internal/rpc"
	"github.com/humansinstitute/ambulando-sub000/internal/signer"
	"github.com/humansinstitute/ambulando-sub000/internal/store"
	"github.com/humansinstitute/ambulando-sub000/internal/teleport"
)

var _ rpc.Transport = (*relay.Pool)(nil)

// App bundles the wired bridge components for commands to use.
type App struct {
	Cfg       Config
	Log       *logrus.Logger
	Key       domain.KeyPair
	Pool      *relay.Pool
	Codec     *teleport.Codec
	Snapshots domain.SnapshotStore
}

// New constructs the dependency graph from cfg.
func New(cfg Config) (*App, error) {
	log := logrus.New()
	if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(lvl)
	}

	key, err := applicationKey(cfg, log)
	if err != nil {
		return nil, err
	}

	home := cfg.Home
	if home == "" {
		dir, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		home = filepath.Join(dir, ".ambulando")
	}
	if err := os.MkdirAll(home, 0o700); err != nil {
		return nil, err
	}

	return &App{
		Cfg:       cfg,
		Log:       log,
		Key:       key,
		Pool:      relay.NewPool(log, cfg.Relays),
		Codec:     teleport.NewCodec(key, log),
		Snapshots: store.NewSnapshotStore(home),
	}, nil
}

// SignerOptions translates config into session options.
func (a *App) SignerOptions(onAuthURL func(string)) signer.Options {
	return signer.Options{
		Relays:          a.Cfg.Relays,
		Name:            a.Cfg.AppName,
		URL:             a.Cfg.AppURL,
		Icon:            a.Cfg.AppIcon,
		HandshakeBudget: a.Cfg.HandshakeBudget,
		RPCTimeout:      a.Cfg.RPCTimeout,
		OnAuthURL:       onAuthURL,
	}
}

// applicationKey loads the fixed receiving key from config, or generates a
// throwaway one for development.
func applicationKey(cfg Config, log *logrus.Logger) (domain.KeyPair, error) {
	if cfg.AppNsec == "" {
		kp, err := crypto.GenerateKeyPair()
		if err != nil {
			return domain.KeyPair{}, err
		}
		npub, _ := crypto.EncodeNpub(kp.Public)
		log.Warnf("AMBULANDO_APP_NSEC not set; generated throwaway key %s (blobs for it die with this process)", npub)
		return kp, nil
	}

	sec, err := crypto.DecodeNsec(cfg.AppNsec)
	if err != nil {
		return domain.KeyPair{}, fmt.Errorf("AMBULANDO_APP_NSEC: %w", err)
	}
	pub, err := crypto.DerivePublicKey(sec)
	if err != nil {
		return domain.KeyPair{}, fmt.Errorf("AMBULANDO_APP_NSEC: %w", err)
	}
	return domain.KeyPair{Secret: sec, Public: pub}, nil
}
