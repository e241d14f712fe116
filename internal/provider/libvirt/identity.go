/*
Copyright 2024 Alexandre Mahdhaoui

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package libvirt resolves the identity of a guest known to libvirt. The
// domain UUID is stable across renames and is used as the guest ID.
package libvirt

import (
	"context"
	"errors"
	"fmt"

	"libvirt.org/go/libvirt"
	"libvirt.org/go/libvirtxml"
)

// DefaultURI targets the VirtualBox driver of the current user.
const DefaultURI = "vbox:///session"

var (
	ErrDomainNotFound = errors.New("domain not found")

	errConnectLibvirt        = errors.New("failed to connect to libvirt")
	errLibvirtNotInitialized = errors.New("libvirt connection is not initialized")
	errGetDomainXML          = errors.New("failed to get domain XML")
	errParseDomainXML        = errors.New("failed to parse domain XML")
	errMissingUUID           = errors.New("domain XML has no uuid")
)

// Identity describes a libvirt domain.
type Identity struct {
	Name string
	UUID string
	// MACAddresses of the domain interfaces, in definition order.
	MACAddresses []string
}

// Resolver looks up domains on one libvirt connection.
type Resolver struct {
	conn *libvirt.Connect
	uri  string
}

// NewResolver connects to uri, or DefaultURI when empty.
func NewResolver(uri string) (*Resolver, error) {
	if uri == "" {
		uri = DefaultURI
	}

	conn, err := libvirt.NewConnect(uri)
	if err != nil {
		return nil, errors.Join(err, fmt.Errorf("uri=%s", uri), errConnectLibvirt)
	}

	return &Resolver{conn: conn, uri: uri}, nil
}

// Close closes the libvirt connection.
func (r *Resolver) Close() error {
	if r.conn == nil {
		return nil
	}

	_, err := r.conn.Close()
	return err
}

// Resolve returns the identity of the domain called name.
func (r *Resolver) Resolve(_ context.Context, name string) (Identity, error) {
	if r.conn == nil {
		return Identity{}, errLibvirtNotInitialized
	}

	dom, err := r.conn.LookupDomainByName(name)
	if err != nil {
		return Identity{}, errors.Join(err, fmt.Errorf("vmName=%s uri=%s", name, r.uri), ErrDomainNotFound)
	}
	defer func() { _ = dom.Free() }()

	xml, err := dom.GetXMLDesc(0)
	if err != nil {
		return Identity{}, errors.Join(err, fmt.Errorf("vmName=%s", name), errGetDomainXML)
	}

	return ParseDomainXML(xml)
}

// ParseDomainXML extracts the identity from a domain definition.
func ParseDomainXML(xml string) (Identity, error) {
	var domain libvirtxml.Domain
	if err := domain.Unmarshal(xml); err != nil {
		return Identity{}, errors.Join(err, errParseDomainXML)
	}

	if domain.UUID == "" {
		return Identity{}, errors.Join(fmt.Errorf("vmName=%s", domain.Name), errMissingUUID)
	}

	id := Identity{
		Name: domain.Name,
		UUID: domain.UUID,
	}

	if domain.Devices != nil {
		for _, iface := range domain.Devices.Interfaces {
			if iface.MAC != nil && iface.MAC.Address != "" {
				id.MACAddresses = append(id.MACAddresses, iface.MAC.Address)
			}
		}
	}

	return id, nil
}
