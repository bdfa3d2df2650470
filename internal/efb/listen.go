package efb

import (
	"context"
	"net"

	log "github.com/sirupsen/logrus"

	"levelcube/internal/gdl90"
)

// Listen reads GDL90 datagrams from pc and calls fn with every ForeFlight
// AHRS report until ctx is done. pc is closed on return.
func Listen(ctx context.Context, pc net.PacketConn, fn func(gdl90.Attitude)) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
		}
		_ = pc.Close()
	}()

	buf := make([]byte, 2048)
	for {
		n, from, err := pc.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		for _, fr := range gdl90.SplitFrames(buf[:n]) {
			msg, crcOK, err := gdl90.Unframe(fr)
			if err != nil || !crcOK {
				log.Debugf("efb: listen: bad frame from %s (crc ok=%t err=%v)", from, crcOK, err)
				continue
			}
			if a, ok := gdl90.ParseForeFlightAHRS(msg); ok {
				fn(a)
			}
		}
	}
}
