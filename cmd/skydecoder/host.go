package main

import (
	"encoding/binary"
	"fmt"
	"net"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/postalsys/skydecoder/internal/deployment"
	"github.com/postalsys/skydecoder/internal/wire"
)

// request dials a decoder, performs one request/response exchange, and
// returns the response body. An Error response becomes a Go error carrying
// the decoder's message.
func request(addr string, op wire.Opcode, body []byte) ([]byte, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial decoder: %w", err)
	}
	defer conn.Close()

	wc := wire.NewConn(conn)
	if err := wc.WriteMessage(&wire.Message{Opcode: op, Body: body}); err != nil {
		return nil, err
	}

	resp, err := wc.ReadMessage()
	if err != nil {
		return nil, err
	}
	if resp.Opcode == wire.OpError {
		return nil, fmt.Errorf("decoder: %s", resp.Body)
	}
	if resp.Opcode != op {
		return nil, fmt.Errorf("unexpected response opcode %s", resp.Opcode)
	}
	return resp.Body, nil
}

func subscribeCmd() *cobra.Command {
	var (
		addr        string
		secretsPath string
		decoderID   uint32
		channel     uint32
		start       uint64
		end         uint64
	)

	cmd := &cobra.Command{
		Use:   "subscribe",
		Short: "Mint a subscription and install it on a decoder",
		RunE: func(cmd *cobra.Command, args []string) error {
			secrets, err := deployment.Load(secretsPath)
			if err != nil {
				return err
			}

			payload, err := secrets.MintSubscription(decoderID, channel, start, end)
			if err != nil {
				return err
			}

			if _, err := request(addr, wire.OpSubscribe, payload); err != nil {
				return err
			}

			fmt.Printf("decoder %d subscribed to channel %d for [%s, %s]\n",
				decoderID, channel,
				humanize.Comma(int64(start)), humanize.Comma(int64(end)))
			return nil
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", "127.0.0.1:7000", "decoder address")
	cmd.Flags().StringVarP(&secretsPath, "secrets", "s", "deployment.secrets.yaml", "secrets file")
	cmd.Flags().Uint32VarP(&decoderID, "decoder-id", "d", 0, "target decoder id")
	cmd.Flags().Uint32VarP(&channel, "channel", "C", 1, "channel id")
	cmd.Flags().Uint64Var(&start, "start", 0, "first covered timestamp")
	cmd.Flags().Uint64Var(&end, "end", 0, "last covered timestamp")
	return cmd
}

func decodeCmd() *cobra.Command {
	var (
		addr             string
		secretsPath      string
		emergencyChannel uint32
		channel          uint32
		timestamp        uint64
		data             string
	)

	cmd := &cobra.Command{
		Use:   "decode",
		Short: "Encode a test frame, send it to a decoder, and print the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			secrets, err := deployment.Load(secretsPath)
			if err != nil {
				return err
			}

			payload, err := secrets.EncodeFrame(emergencyChannel, channel, timestamp, []byte(data))
			if err != nil {
				return err
			}

			frame, err := request(addr, wire.OpDecode, payload)
			if err != nil {
				return err
			}

			fmt.Printf("%s\n", frame)
			return nil
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", "127.0.0.1:7000", "decoder address")
	cmd.Flags().StringVarP(&secretsPath, "secrets", "s", "deployment.secrets.yaml", "secrets file")
	cmd.Flags().Uint32Var(&emergencyChannel, "emergency-channel", 0, "emergency channel id")
	cmd.Flags().Uint32VarP(&channel, "channel", "C", 1, "channel id")
	cmd.Flags().Uint64VarP(&timestamp, "timestamp", "t", 0, "frame timestamp")
	cmd.Flags().StringVar(&data, "data", "", "frame contents (max 64 bytes)")
	return cmd
}

func listCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the subscriptions stored on a decoder",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := request(addr, wire.OpList, nil)
			if err != nil {
				return err
			}

			if len(body) < 4 {
				return fmt.Errorf("short list response: %d bytes", len(body))
			}
			count := binary.LittleEndian.Uint32(body)
			if len(body) != 4+int(count)*20 {
				return fmt.Errorf("malformed list response: %d bytes for %d records", len(body), count)
			}

			fmt.Printf("%d subscription(s)\n", count)
			for i := 0; i < int(count); i++ {
				rec := body[4+i*20:]
				ch := binary.LittleEndian.Uint32(rec)
				start := binary.LittleEndian.Uint64(rec[4:])
				end := binary.LittleEndian.Uint64(rec[12:])
				fmt.Printf("  channel %d: [%s, %s]\n", ch,
					humanize.Comma(int64(start)), humanize.Comma(int64(end)))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", "127.0.0.1:7000", "decoder address")
	return cmd
}
