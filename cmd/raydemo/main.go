/*
Copyright Scivis Labs. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// raydemo exercises the messaging layer: every rank broadcasts a control
// message to all peers and ships a ray burst to its right neighbor, then
// drains until it has heard from everyone. Run either as one process per
// rank over the gRPC transport (with a config file), or with all ranks
// inside one process over the local transport (--local).
package main

import (
	"fmt"
	"os"
	"sync"
	"time"

	logger "github.com/rs/zerolog/log"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/scivis-labs/raynet/config"
	"github.com/scivis-labs/raynet/journal"
	"github.com/scivis-labs/raynet/pkg/ray"
	"github.com/scivis-labs/raynet/pkg/transport/grpctransport"
	"github.com/scivis-labs/raynet/pkg/transport/local"
	"github.com/scivis-labs/raynet/pkg/types"
)

// params represents parsed command-line parameters passed to the program.
type params struct {
	ConfigFile string
	Local      int
}

func main() {
	args := parseArgs(os.Args[1:])

	if args.Local > 0 {
		runLocal(args.Local)
		return
	}

	config.LoadFile(args.ConfigFile)
	runNode()
}

// runNode runs one rank over the gRPC transport, per the loaded config.
func runNode() {

	// ================================================================================
	// Bring up the transport and the messenger.
	// ================================================================================

	membership := config.Membership()
	connectTimeout := time.Duration(config.Config.ConnectTimeout) * time.Second
	tp := grpctransport.NewTransport(membership, types.Rank(config.Config.Id), connectTimeout)
	if err := tp.Start(); err != nil {
		panic(err)
	}
	tp.Connect()

	m := ray.New(tp)
	if err := m.RegisterMessages(
		config.Config.MaxMessageLength,
		config.Config.MessageRecvs,
		config.Config.RayRecvs,
	); err != nil {
		panic(err)
	}

	// Open the message-event journal, if configured.
	var jnl *journal.Journal
	if config.Config.JournalPath != "" {
		var err error
		if jnl, err = journal.Open(config.Config.JournalPath); err != nil {
			panic(err)
		}
		defer func() {
			summarizeJournal(jnl)
			if err := jnl.Close(); err != nil {
				logger.Warn().Err(err).Msg("Could not close journal.")
			}
		}()
	}

	// ================================================================================
	// Exchange messages and rays, then shut down cleanly.
	// ================================================================================

	exchange(m, jnl)
	shutdown(m)
	tp.Stop()
}

// runLocal runs n ranks inside this process over the local transport.
func runLocal(n int) {
	net := local.NewNetwork(n)

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(rank types.Rank) {
			defer wg.Done()

			m := ray.New(net.Endpoint(rank))
			if err := m.RegisterMessages(16, 8, 4); err != nil {
				panic(err)
			}
			exchange(m, nil)
			shutdown(m)
		}(types.Rank(i))
	}
	wg.Wait()
}

// exchange broadcasts one control message, sends a ray burst to the right
// neighbor, and drains until a message from every peer and one burst have
// arrived.
func exchange(m *ray.Messenger, jnl *journal.Journal) {
	rank := m.Rank()
	nProcs := m.Size()

	if err := m.SendAllMsg([]int32{rank.Pb(), int32(nProcs)}); err != nil {
		panic(err)
	}

	burst := make([]ray.Ray, 100)
	for i := range burst {
		burst[i] = ray.Ray{
			ID:      int64(i),
			PixelID: int64(int(rank)*len(burst) + i),
			Origin:  [3]float64{float64(rank), 0, 0},
			Dir:     [3]float64{0, 0, 1},
			MaxT:    1e30,
		}
	}
	neighbor := types.Rank((int(rank) + 1) % nProcs)
	if nProcs > 1 {
		if err := m.SendRays(neighbor, burst); err != nil {
			panic(err)
		}
		record(jnl, journal.EventSend, neighbor, ray.RayTag, len(burst)*ray.RaySlotBytes)
	}

	msgsSeen := 0
	raysSeen := 0
	wantRays := 0
	if nProcs > 1 {
		wantRays = len(burst)
	}

	var msgs []ray.MsgCommData
	var rays []ray.Ray
	for msgsSeen < nProcs-1 || raysSeen < wantRays {
		got, err := m.RecvAny(&msgs, &rays, false)
		if err != nil {
			panic(err)
		}
		if got {
			for _, msg := range msgs {
				logger.Info().
					Int32("rank", rank.Pb()).
					Int32("from", msg.Rank.Pb()).
					Msgf("Received control message: %v", msg.Message)
				record(jnl, journal.EventDeliver, msg.Rank, ray.MessageTag, 4*len(msg.Message))
			}
			msgsSeen += len(msgs)
			raysSeen += len(rays)
			if len(rays) > 0 {
				logger.Info().Int32("rank", rank.Pb()).Int("rays", len(rays)).Msg("Received ray burst.")
				record(jnl, journal.EventDeliver, types.AnySource, ray.RayTag, len(rays)*ray.RaySlotBytes)
			}
		}

		if err := m.CheckPendingSendRequests(); err != nil {
			panic(err)
		}
		if !got {
			time.Sleep(time.Millisecond)
		}
	}
}

// shutdown tears the messenger down per its shutdown contract: cancel all
// posted receives, then drain the send pool.
func shutdown(m *ray.Messenger) {
	m.CleanupRequests(types.AllTags)
	for m.PendingSendCount() > 0 {
		if err := m.CheckPendingSendRequests(); err != nil {
			panic(err)
		}
		time.Sleep(time.Millisecond)
	}
}

func record(jnl *journal.Journal, kind string, peer types.Rank, tag types.Tag, bytes int) {
	if jnl == nil {
		return
	}
	err := jnl.Append(journal.Event{
		Kind:  kind,
		Peer:  peer.Pb(),
		Tag:   tag.Pb(),
		Bytes: bytes,
		Time:  time.Now().UnixNano(),
	})
	if err != nil {
		logger.Warn().Err(err).Msg("Could not journal event.")
	}
}

func summarizeJournal(jnl *journal.Journal) {
	counts := make(map[string]int)
	bytes := make(map[string]int)
	err := jnl.Iterate(func(ev journal.Event) error {
		counts[ev.Kind]++
		bytes[ev.Kind] += ev.Bytes
		return nil
	})
	if err != nil {
		logger.Warn().Err(err).Msg("Could not summarize journal.")
		return
	}
	for kind, n := range counts {
		fmt.Printf("journal: %s events=%d bytes=%d\n", kind, n, bytes[kind])
	}
}

// Parses the command-line arguments and returns them in a params struct.
func parseArgs(args []string) *params {
	app := kingpin.New("raydemo", "Demo driver for the raynet messaging layer.")
	configFile := app.Flag("config", "Configuration file.").Default("raynet.yml").String()
	localRanks := app.Flag("local", "Run this many ranks in-process over the local transport.").Int()

	if _, err := app.Parse(args); err != nil {
		panic(err)
	}

	return &params{
		ConfigFile: *configFile,
		Local:      *localRanks,
	}
}
