// Copyright 2023 The emqx-go Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// package main is the entrypoint for the hub's broker process: it wires
// config, the registry store, the security components and the broker
// lifecycle together with go.uber.org/fx and runs until terminated.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/fx"

	"github.com/hearthiot/hub-core/pkg/actor"
	"github.com/hearthiot/hub-core/pkg/blacklist"
	"github.com/hearthiot/hub-core/pkg/broker"
	"github.com/hearthiot/hub-core/pkg/certbind"
	"github.com/hearthiot/hub-core/pkg/certrotate"
	"github.com/hearthiot/hub-core/pkg/config"
	"github.com/hearthiot/hub-core/pkg/deviceauth"
	"github.com/hearthiot/hub-core/pkg/healthmonitor"
	"github.com/hearthiot/hub-core/pkg/interceptor"
	"github.com/hearthiot/hub-core/pkg/metrics"
	"github.com/hearthiot/hub-core/pkg/registry"
	"github.com/hearthiot/hub-core/pkg/supervisor"
	"github.com/hearthiot/hub-core/pkg/telemetry"
	"github.com/hearthiot/hub-core/pkg/workerpool"
)

func main() {
	printExample := flag.Bool("print-config-example", false, "print a YAML config template with every default filled in, then exit")
	flag.Parse()
	if *printExample {
		out, err := config.DumpExample()
		if err != nil {
			fmt.Fprintf(os.Stderr, "hub-broker: %v\n", err)
			os.Exit(1)
		}
		os.Stdout.Write(out)
		return
	}

	app := fx.New(
		fx.Provide(
			config.Load,
			newLogger,
			newStore,
			newAuthenticator,
			newIngestor,
			newCertBinder,
			newWorkerPool,
			newDenylist,
			newInterceptorHook,
			newHealthMonitor,
			newSupervisor,
		),
		fx.Invoke(registerCertRotator, registerBroker, registerMetricsServer),
	)

	startCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		fmt.Fprintf(os.Stderr, "hub-broker: start failed: %v\n", err)
		os.Exit(1)
	}

	<-app.Done()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	if err := app.Stop(stopCtx); err != nil {
		fmt.Fprintf(os.Stderr, "hub-broker: stop failed: %v\n", err)
	}
}

func newLogger(cfg *config.Config) *logrus.Entry {
	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	return logrus.NewEntry(logrus.StandardLogger())
}

func newStore(cfg *config.Config, log *logrus.Entry) (registry.Store, error) {
	store, err := registry.Open(cfg.Database.DSN, log)
	if err != nil {
		return nil, err
	}
	if err := store.Bootstrap(context.Background()); err != nil {
		return nil, fmt.Errorf("hub-broker: bootstrap schema: %w", err)
	}
	return store, nil
}

func newAuthenticator(store registry.Store, log *logrus.Entry) *deviceauth.Authenticator {
	return deviceauth.New(store, log)
}

func newIngestor(store registry.Store, log *logrus.Entry) *telemetry.Ingestor {
	return telemetry.New(store, log)
}

func newCertBinder(store registry.Store) *certbind.Resolver {
	return certbind.New(store)
}

func newWorkerPool(cfg *config.Config) *workerpool.Pool {
	return workerpool.New(cfg.WorkerPool.Size, cfg.WorkerPool.Size*4)
}

func newDenylist() *blacklist.Manager {
	return blacklist.NewManager()
}

func newInterceptorHook(
	cfg *config.Config,
	store registry.Store,
	auth *deviceauth.Authenticator,
	ingestor *telemetry.Ingestor,
	cb *certbind.Resolver,
	pool *workerpool.Pool,
	denylist *blacklist.Manager,
	log *logrus.Entry,
) (*interceptor.Hook, error) {
	return interceptor.New(interceptor.Config{
		Store:        store,
		Auth:         auth,
		Ingestor:     ingestor,
		CertBind:     cb,
		Pool:         pool,
		Denylist:     denylist,
		ControllerID: cfg.Server.ControllerID,
		Log:          log,
	})
}

func newHealthMonitor(store registry.Store, log *logrus.Entry) *healthmonitor.Monitor {
	return healthmonitor.New(store, log)
}

func newSupervisor() supervisor.Supervisor {
	return supervisor.NewOneForOneSupervisor()
}

// registerCertRotator starts the health monitor under the one-for-one
// supervisor so a panic in that background loop gets restarted instead of
// silently stopping. The cert rotator is added to the supervisor by
// registerBroker.
func registerCertRotator(lc fx.Lifecycle, sup supervisor.Supervisor, hm *healthmonitor.Monitor, log *logrus.Entry) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return sup.Start(context.Background(), []supervisor.Spec{
				{ID: "health-monitor", Actor: hm, Restart: supervisor.RestartPermanent, Mailbox: actor.NewMailbox(1)},
			})
		},
	})
}

// registerBroker wires the broker lifecycle and the cert rotator that
// restarts it, and appends the fx.Lifecycle hooks that start/stop both.
func registerBroker(lc fx.Lifecycle, cfg *config.Config, hook *interceptor.Hook, sup supervisor.Supervisor, log *logrus.Entry) {
	b := broker.New(broker.Config{
		Address:            cfg.Server.TLSAddress,
		KeystorePath:       cfg.TLS.KeystorePath,
		KeystorePassword:   cfg.TLS.KeystorePassword,
		TruststorePath:     cfg.TLS.TruststorePath,
		TruststorePassword: cfg.TLS.TruststorePassword,
		Hook:               hook,
		Log:                log,
	})

	rotator := certrotate.New(cfg.TLS.KeystorePath, cfg.TLS.TruststorePath, b.Restart, log)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := b.Start(ctx); err != nil {
				return err
			}
			sup.StartChild(context.Background(), supervisor.Spec{
				ID: "cert-rotator", Actor: rotator, Restart: supervisor.RestartPermanent, Mailbox: actor.NewMailbox(1),
			})
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return b.Stop(ctx)
		},
	})
}

func registerMetricsServer(lc fx.Lifecycle, cfg *config.Config) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go metrics.Serve(cfg.Metrics.Address)
			return nil
		},
	})
}
