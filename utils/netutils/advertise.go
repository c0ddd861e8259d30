/*
Copyright 2022-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package netutils

import (
	"net"
	"strconv"

	"github.com/pkg/errors"
)

// IsInAddrAny reports whether binding to addr listens on every interface.
func IsInAddrAny(addr string) bool {
	return addr == "" || addr == "::" || addr == "::/0" || addr == "0.0.0.0"
}

// outboundIP finds the address of the interface used for outbound traffic,
// a UDP dial sends no packets.
func outboundIP() (net.IP, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return nil, errors.Wrap(err, "failed to determine outbound ip")
	}
	defer conn.Close()

	return conn.LocalAddr().(*net.UDPAddr).IP, nil
}

// AdvertiseEndpoint returns the host:port other members should use to reach a
// service bound to bindAddress.  An explicit advertiseAddress always wins,
// then a specific bind address, and finally the outbound interface address.
func AdvertiseEndpoint(advertiseAddress, bindAddress string, port int) (string, error) {
	host := advertiseAddress
	if host == "" {
		if !IsInAddrAny(bindAddress) {
			host = bindAddress
		} else {
			ip, err := outboundIP()
			if err != nil {
				return "", err
			}
			host = ip.String()
		}
	}

	return net.JoinHostPort(host, strconv.Itoa(port)), nil
}
