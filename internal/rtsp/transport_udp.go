package rtsp

import (
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sync"
)

const (
	minPort        = 10000
	maxPort        = 65000
	maxListenTries = 100
	udpPacketSize  = 0x10000
	rtcpPacketSize = 0x800
)

// udpPair is the RTP/RTCP socket pair of one media.
type udpPair struct {
	rtpConn  *net.UDPConn
	rtcpConn *net.UDPConn
	rtpPort  int
	rtcpPort int

	serverRTP  *net.UDPAddr
	serverRTCP *net.UDPAddr

	closeOnce sync.Once
}

// listenUDPPair binds an even RTP port and the RTCP port above it.
func listenUDPPair(readBuffer int) (*udpPair, error) {
	a := &net.UDPAddr{IP: net.IPv4zero}

	for i := 0; i < maxListenTries; i++ {
		rtpPort := (minPort + rand.Intn(maxPort-minPort)) &^ 1

		a.Port = rtpPort
		rtpConn, err := net.ListenUDP("udp", a)
		if err != nil {
			continue
		}

		a.Port = rtpPort + 1
		rtcpConn, err := net.ListenUDP("udp", a)
		if err != nil {
			rtpConn.Close()
			continue
		}

		if readBuffer > 0 {
			_ = rtpConn.SetReadBuffer(readBuffer)
		}

		return &udpPair{
			rtpConn:  rtpConn,
			rtcpConn: rtcpConn,
			rtpPort:  rtpPort,
			rtcpPort: rtpPort + 1,
		}, nil
	}
	return nil, fmt.Errorf("no free udp port pair after %d tries", maxListenTries)
}

// setServer records where the server sends from, for receiver reports.
func (p *udpPair) setServer(host string, ports *[2]int) {
	ip := net.ParseIP(host)
	if ip == nil || ports == nil || ports[0] == 0 {
		return
	}
	p.serverRTP = &net.UDPAddr{IP: ip, Port: ports[0]}
	p.serverRTCP = &net.UDPAddr{IP: ip, Port: ports[1]}
}

func (p *udpPair) start(wg *sync.WaitGroup, onRTP, onRTCP func([]byte), onError func(error)) {
	wg.Add(2)
	go readLoop(wg, p.rtpConn, udpPacketSize, onRTP, onError)
	go readLoop(wg, p.rtcpConn, rtcpPacketSize, onRTCP, onError)
}

func readLoop(wg *sync.WaitGroup, c *net.UDPConn, size int, handle func([]byte), onError func(error)) {
	defer wg.Done()

	buf := make([]byte, size)
	for {
		n, _, err := c.ReadFromUDP(buf)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				onError(err)
			}
			return
		}
		handle(buf[:n])
	}
}

func (p *udpPair) writeRTCP(b []byte) error {
	if p.serverRTCP == nil {
		return nil
	}
	_, err := p.rtcpConn.WriteToUDP(b, p.serverRTCP)
	return err
}

func (p *udpPair) close() {
	p.closeOnce.Do(func() {
		p.rtpConn.Close()
		p.rtcpConn.Close()
	})
}
