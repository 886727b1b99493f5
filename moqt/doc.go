// Package moqt implements a media-over-QUIC style transport session.
//
// A Session runs on one quic.Connection. Control state travels on a single
// bidirectional session stream; discovery and subscriptions each open their
// own bidirectional stream; every group of a subscribed track arrives on its
// own unidirectional stream so that a late group can be abandoned without
// stalling the ones behind it.
//
// The subscribing side calls Session.OpenAnnounceStream to discover
// broadcast paths and Session.Subscribe to receive a track:
//
//	tr, err := sess.Subscribe(ctx, "/live/room1", "video", nil)
//	for {
//		g, err := tr.AcceptGroup(ctx)
//		if err != nil {
//			return err
//		}
//		for {
//			frame, err := g.ReadFrame()
//			if err == io.EOF {
//				break
//			}
//			...
//		}
//	}
//
// The publishing side registers TrackHandlers on a TrackMux; the session
// dispatches every incoming subscription to the handler for its path.
package moqt
