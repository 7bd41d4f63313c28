package electrum

import (
	"bufio"
	"fmt"
	"io"
	"net"
)

// SOCKS5 constants for the Electrum access-token handshake, grounded on
// util/auth.rs's electrum_socks5_auth: the Electrum protocol has no native
// auth, so a client configured to use this server as a SOCKS5 proxy is
// made to present the access token either as its proxy password or as the
// destination hostname, after which the socket is handed back to the
// plain JSON-RPC line loop.
const (
	socks5Version  = 0x05
	authVersion    = 0x01
	authNone       = 0x00
	authUserPass   = 0x02
	authSuccess    = 0x00
	cmdConnect     = 0x01
	addrTypeIPv4   = 0x01
	addrTypeDomain = 0x03
)

func readByte(r *bufio.Reader) (byte, error) {
	b, err := r.ReadByte()
	return b, err
}

func readVar(r *bufio.Reader) ([]byte, error) {
	n, err := readByte(r)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// authenticate performs the SOCKS5-framed handshake and reports whether
// the client presented accessToken. On success it returns the buffered
// reader the handshake consumed from, so the caller's line scanner picks
// up exactly where the handshake left off rather than losing bytes the
// reader had already pulled from the socket.
func authenticate(nc net.Conn, accessToken string) (bool, *bufio.Reader, error) {
	r := bufio.NewReader(nc)

	ver, err := readByte(r)
	if err != nil {
		return false, nil, err
	}
	if ver != socks5Version {
		return false, nil, fmt.Errorf("unexpected SOCKS version %x", ver)
	}
	methods, err := readVar(r)
	if err != nil {
		return false, nil, err
	}

	authenticated := false
	if containsByte(methods, authUserPass) {
		if _, err := nc.Write([]byte{socks5Version, authUserPass}); err != nil {
			return false, nil, err
		}
		av, err := readByte(r)
		if err != nil {
			return false, nil, err
		}
		if av != authVersion {
			return false, nil, fmt.Errorf("unexpected auth version %x", av)
		}
		if _, err := readVar(r); err != nil { // username, ignored
			return false, nil, err
		}
		password, err := readVar(r)
		if err != nil {
			return false, nil, err
		}
		if string(password) == accessToken {
			authenticated = true
		}
		status := byte(authSuccess)
		if !authenticated {
			status = 0x01
		}
		if _, err := nc.Write([]byte{authVersion, status}); err != nil {
			return false, nil, err
		}
	} else if containsByte(methods, authNone) {
		if _, err := nc.Write([]byte{socks5Version, authNone}); err != nil {
			return false, nil, err
		}
	} else {
		return false, nil, fmt.Errorf("incompatible SOCKS5 auth methods offered")
	}

	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return false, nil, err
	}
	if hdr[0] != socks5Version || hdr[1] != cmdConnect {
		return false, nil, fmt.Errorf("invalid SOCKS5 connect request")
	}
	switch hdr[3] {
	case addrTypeIPv4:
		var ip [4]byte
		if _, err := io.ReadFull(r, ip[:]); err != nil {
			return false, nil, err
		}
	case addrTypeDomain:
		domain, err := readVar(r)
		if err != nil {
			return false, nil, err
		}
		if !authenticated && string(domain) == accessToken {
			authenticated = true
		}
	default:
		return false, nil, fmt.Errorf("unsupported SOCKS5 address type %x", hdr[3])
	}
	if !authenticated {
		return false, nil, nil
	}

	var port [2]byte
	if _, err := io.ReadFull(r, port[:]); err != nil {
		return false, nil, err
	}

	reply := []byte{socks5Version, authSuccess, 0x00, addrTypeIPv4, 0, 0, 0, 0, 0, 0}
	if _, err := nc.Write(reply); err != nil {
		return false, nil, err
	}
	return true, r, nil
}

func containsByte(bs []byte, b byte) bool {
	for _, x := range bs {
		if x == b {
			return true
		}
	}
	return false
}
