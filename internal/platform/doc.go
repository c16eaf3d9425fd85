// Package platform is the libvirt side of anvil: it connects to a libvirt
// daemon and exposes the handful of operations the machine lifecycle needs.
//
// vSphere-style placement maps onto libvirt like this:
//
//	instance UUID   -> domain UUID
//	template        -> a defined (normally shut off) domain
//	datacenter      -> anvil domain metadata
//	folder          -> anvil domain metadata
//	datastore       -> storage pool holding the clone's overlays
//	guest tools     -> QEMU guest agent
//
// A clone is a new domain whose disks are qcow2 overlays backed by the
// template's disks, plus a NoCloud seed ISO carrying the clone's identity.
//
// Connection:
//
//	client, err := platform.Connect(ctx, opts)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
// All methods take a Resource fetched on the same call path; Resources are
// never cached across lifecycle operations.
package platform
