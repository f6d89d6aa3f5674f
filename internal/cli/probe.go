package cli

import (
	"github.com/spf13/cobra"

	"class-meet-service/internal/mesh"
)

// NewProbeCmd runs a headless meeting participant against a live server:
// it joins the room, negotiates WebRTC links with every peer, and logs link
// state transitions. Handy for soak-testing the mesh without browsers.
func NewProbeCmd() *cobra.Command {
	var (
		serverURL   string
		roomID      string
		displayName string
		stunServers []string
	)

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Join a meeting as a headless mesh participant",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger("debug")
			factory := mesh.NewPionFactory(stunServers)
			client := mesh.NewClient(serverURL, roomID, displayName, factory, log)
			return client.Run(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&serverURL, "url", "ws://localhost:8080/ws", "websocket URL of the meeting server")
	cmd.Flags().StringVar(&roomID, "room", "", "meeting code to join")
	cmd.Flags().StringVar(&displayName, "name", "probe", "display name")
	cmd.Flags().StringSliceVar(&stunServers, "stun", nil, "STUN server URLs (defaults to public Google servers)")
	_ = cmd.MarkFlagRequired("room")
	return cmd
}
