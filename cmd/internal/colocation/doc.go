// Package colocation runs the host/client colocation handshake.
//
// A Coordinator drives one device through a session attempt:
//   - Host: advertise a session, mint the GroupID, broadcast it, then create,
//     save and share a reference anchor at the origin.
//   - Client: join the session, wait for the GroupID broadcast, load the
//     group's anchors and align to the first one that localizes.
//
// The anchor runtime, session transport and alignment rig are collaborators
// behind small interfaces so real device SDKs can replace the reference ones.
package colocation
