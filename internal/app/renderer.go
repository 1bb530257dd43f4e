// ABOUTME: Display card listener on the device side
// ABOUTME: Accepts one card per connection from the gateway on port+100
package app

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/avslink/avslink-go/pkg/protocol"
	"github.com/rs/zerolog/log"
)

// cardReadTimeout bounds how long a card connection may stay open
const cardReadTimeout = 10 * time.Second

// listenCards accepts card pushes on addr until ctx is cancelled
func listenCards(ctx context.Context, addr string, onCard func(protocol.Card)) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	return serveCards(ctx, ln, onCard)
}

func serveCards(ctx context.Context, ln net.Listener, onCard func(protocol.Card)) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	log.Info().Str("addr", ln.Addr().String()).Msg("listening for display cards")

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go readCard(conn, onCard)
	}
}

func readCard(conn net.Conn, onCard func(protocol.Card)) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(cardReadTimeout))
	card, err := protocol.ReadCard(conn)
	if err != nil {
		log.Warn().Err(err).Str("addr", conn.RemoteAddr().String()).Msg("bad display card")
		return
	}

	log.Debug().Stringer("type", card.Type).Int("bytes", len(card.Payload)).Msg("display card")
	if onCard != nil {
		onCard(card)
	}
}
