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

// Package certrotate is the other half of C8: it watches the keystore and
// truststore files on disk for changes and forces a periodic restart even
// when nothing changed, so a broker that has been up for a month never
// runs indefinitely on certificates nobody is watching expire.
package certrotate

import (
	"context"
	"math/rand"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hearthiot/hub-core/pkg/actor"
	"github.com/hearthiot/hub-core/pkg/metrics"
)

// MinRotation and MaxRotation bound the jittered forced-restart interval,
// matching original_source's CertRotationService span.
const (
	MinRotation = 7 * 24 * time.Hour
	MaxRotation = 30 * 24 * time.Hour
	PollInterval = 5 * time.Minute
)

// RestartFunc stops and restarts the broker listener with freshly-reloaded
// TLS material.
type RestartFunc func(ctx context.Context) error

// Rotator watches a keystore and truststore file for mtime changes and
// forces a restart on a jittered long-period timer regardless.
type Rotator struct {
	Keystore   string
	Truststore string
	Restart    RestartFunc

	log  *logrus.Entry
	rand *rand.Rand
}

// New returns a Rotator watching keystore and truststore, calling restart
// whenever either file changes or the jittered timer elapses.
func New(keystore, truststore string, restart RestartFunc, log *logrus.Entry) *Rotator {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Rotator{
		Keystore:   keystore,
		Truststore: truststore,
		Restart:    restart,
		log:        log.WithField("component", "certrotate"),
		rand:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// nextDelay mirrors min + abs(rand.Int63()) % (span+1).
func (r *Rotator) nextDelay() time.Duration {
	span := int64(MaxRotation - MinRotation)
	jitter := r.rand.Int63() % (span + 1)
	if jitter < 0 {
		jitter = -jitter
	}
	return MinRotation + time.Duration(jitter)
}

// Start implements actor.Actor: it polls file mtimes every PollInterval
// and restarts on a jittered long-period timer, until ctx is cancelled.
func (r *Rotator) Start(ctx context.Context, _ *actor.Mailbox) error {
	keystoreMtime := mtime(r.Keystore)
	truststoreMtime := mtime(r.Truststore)

	pollTicker := time.NewTicker(PollInterval)
	defer pollTicker.Stop()

	rotateTimer := time.NewTimer(r.nextDelay())
	defer rotateTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-pollTicker.C:
			ks, ts := mtime(r.Keystore), mtime(r.Truststore)
			if !ks.Equal(keystoreMtime) || !ts.Equal(truststoreMtime) {
				keystoreMtime, truststoreMtime = ks, ts
				r.doRestart(ctx, "tls material changed on disk")
			}
		case <-rotateTimer.C:
			r.doRestart(ctx, "scheduled rotation interval elapsed")
			next := r.nextDelay()
			r.log.WithField("next_rotation_hours", next.Hours()).Info("cert rotation scheduled")
			rotateTimer.Reset(next)
		}
	}
}

func (r *Rotator) doRestart(ctx context.Context, reason string) {
	r.log.WithField("reason", reason).Info("restarting broker for certificate rotation")
	if err := r.Restart(ctx); err != nil {
		r.log.WithError(err).Error("broker restart failed during cert rotation")
		return
	}
	metrics.CertRotationRestartsTotal.Inc()
}

func mtime(path string) time.Time {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}
