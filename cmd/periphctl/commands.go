package main

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"picoperiph/config"
	"picoperiph/drivers/ds1307"
	"picoperiph/drivers/mcp49x2"
	"picoperiph/errcode"
	"picoperiph/random"
)

func (a *app) rtcCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{Use: "rtc", Short: "DS1307 real-time clock"}
	cmd.PersistentFlags().StringVarP(&name, "device", "d", "", "device name (default the first ds1307)")

	open := func() (*ds1307.Device, error) {
		d, err := a.device("ds1307", name)
		if err != nil {
			return nil, err
		}
		return a.rtcFor(d)
	}

	get := &cobra.Command{
		Use:   "get",
		Short: "Print the clock",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rtc, err := open()
			if err != nil {
				return err
			}
			t, err := rtc.Now()
			if err != nil {
				return err
			}
			running, err := rtc.Running()
			if err != nil {
				return err
			}
			state := "running"
			if !running {
				state = "halted"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", t.Format(time.RFC3339), state)
			return nil
		},
	}

	set := &cobra.Command{
		Use:   "set [RFC3339 time]",
		Short: "Set the clock, to the host time when no time is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t := time.Now().UTC()
			if len(args) == 1 {
				var err error
				if t, err = time.Parse(time.RFC3339, args[0]); err != nil {
					return &errcode.E{C: errcode.InvalidParams, Op: "rtc set", Err: err}
				}
			}
			rtc, err := open()
			if err != nil {
				return err
			}
			if err := rtc.SetTime(t); err != nil {
				return err
			}
			a.log.Info().Time("time", t).Msg("clock set")
			return nil
		},
	}

	rates := map[string]ds1307.Rate{
		"1hz":   ds1307.Rate1Hz,
		"4khz":  ds1307.Rate4kHz,
		"8khz":  ds1307.Rate8kHz,
		"32khz": ds1307.Rate32kHz,
	}
	sqw := &cobra.Command{
		Use:   "sqw off|1hz|4khz|8khz|32khz",
		Short: "Configure the SQW/OUT pin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			arg := strings.ToLower(args[0])
			rate, ok := rates[arg]
			if !ok && arg != "off" {
				return &errcode.E{C: errcode.InvalidParams, Op: "rtc sqw", Msg: args[0]}
			}
			rtc, err := open()
			if err != nil {
				return err
			}
			return rtc.SetSquareWave(ok, rate)
		},
	}

	cmd.AddCommand(get, set, sqw)
	return cmd
}

func (a *app) envCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{Use: "env", Short: "BMP280/BME280 environment sensor"}
	cmd.PersistentFlags().StringVarP(&name, "device", "d", "", "device name (default the first bmx280)")
	cmd.AddCommand(&cobra.Command{
		Use:   "read",
		Short: "Take one forced measurement",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := a.device("bmx280", name)
			if err != nil {
				return err
			}
			env, err := a.envFor(d)
			if err != nil {
				return err
			}
			m, err := env.Read()
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "temperature %.2f C\npressure %.2f hPa\n", m.Celsius(), m.HPa())
			if env.IsBME() {
				fmt.Fprintf(w, "humidity %.2f %%\n", m.Relative())
			}
			return nil
		},
	})
	return cmd
}

// memory is any of the byte-addressed parts.
type memory interface {
	io.ReaderAt
	io.WriterAt
}

func (a *app) memoryCmd(use, kind, short string, size int, open func(config.Device) (memory, error)) *cobra.Command {
	var name string
	cmd := &cobra.Command{Use: use, Short: short}
	cmd.PersistentFlags().StringVarP(&name, "device", "d", "", "device name (default the first "+kind+")")

	mem := func() (memory, error) {
		d, err := a.device(kind, name)
		if err != nil {
			return nil, err
		}
		return open(d)
	}

	var length int
	dump := &cobra.Command{
		Use:   "dump [offset]",
		Short: "Hex dump from offset",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			off := int64(0)
			if len(args) == 1 {
				var err error
				if off, err = parseOffset(args[0], size); err != nil {
					return err
				}
			}
			if length < 1 || int64(length) > int64(size)-off {
				return &errcode.E{C: errcode.InvalidParams, Op: use + " dump", Msg: "length out of range"}
			}
			m, err := mem()
			if err != nil {
				return err
			}
			buf := make([]byte, length)
			if _, err := m.ReadAt(buf, off); err != nil {
				return err
			}
			return hexDump(cmd.OutOrStdout(), buf, off)
		},
	}
	dump.Flags().IntVarP(&length, "length", "n", 64, "bytes to read")

	var text bool
	write := &cobra.Command{
		Use:   "write offset data",
		Short: "Write hex bytes (or text with --text) at offset",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			off, err := parseOffset(args[0], size)
			if err != nil {
				return err
			}
			data, err := parseData(args[1], text)
			if err != nil {
				return err
			}
			if int64(len(data)) > int64(size)-off {
				return &errcode.E{C: errcode.InvalidParams, Op: use + " write", Msg: "data runs past the end"}
			}
			m, err := mem()
			if err != nil {
				return err
			}
			if _, err := m.WriteAt(data, off); err != nil {
				return err
			}
			a.log.Info().Int64("offset", off).Int("bytes", len(data)).Msg("written")
			return nil
		},
	}
	write.Flags().BoolVar(&text, "text", false, "data is text, not hex")

	cmd.AddCommand(dump, write)
	return cmd
}

func (a *app) eepromCmd() *cobra.Command {
	return a.memoryCmd("eeprom", "eeprom25xx640a", "25AA640A/25LC640A SPI EEPROM", 8192, func(d config.Device) (memory, error) {
		return a.eepromFor(d)
	})
}

func (a *app) at24Cmd() *cobra.Command {
	return a.memoryCmd("at24", "at24c32", "AT24C32 I2C EEPROM", 4096, func(d config.Device) (memory, error) {
		return a.at24For(d)
	})
}

func (a *app) sramCmd() *cobra.Command {
	var (
		name   string
		offset string
		length int
	)
	cmd := &cobra.Command{Use: "sram", Short: "23LC1024 SPI SRAM"}
	cmd.PersistentFlags().StringVarP(&name, "device", "d", "", "device name (default the first sram23lc1024)")
	test := &cobra.Command{
		Use:   "test",
		Short: "Write a random pattern and read it back",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			const size = 128 * 1024
			off, err := parseOffset(offset, size)
			if err != nil {
				return err
			}
			if length < 1 || int64(length) > size-off {
				return &errcode.E{C: errcode.InvalidParams, Op: "sram test", Msg: "length out of range"}
			}
			d, err := a.device("sram23lc1024", name)
			if err != nil {
				return err
			}
			ram, err := a.sramFor(d)
			if err != nil {
				return err
			}
			want := make([]byte, length)
			rng := random.New()
			for i := range want {
				want[i] = byte(rng.Uint32())
			}
			start := time.Now()
			if _, err := ram.WriteAt(want, off); err != nil {
				return err
			}
			got := make([]byte, length)
			if _, err := ram.ReadAt(got, off); err != nil {
				return err
			}
			elapsed := time.Since(start)
			bad := 0
			for i := range want {
				if got[i] != want[i] {
					if bad == 0 {
						fmt.Fprintf(cmd.OutOrStdout(), "first mismatch at %#x: wrote %#02x read %#02x\n", off+int64(i), want[i], got[i])
					}
					bad++
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d bytes, %d bad, %s\n", length, bad, elapsed.Round(time.Microsecond))
			if bad > 0 {
				return &errcode.E{C: errcode.CommsCheck, Op: "sram test", Msg: strconv.Itoa(bad) + " bytes differ"}
			}
			return nil
		},
	}
	test.Flags().StringVar(&offset, "offset", "0", "first address")
	test.Flags().IntVarP(&length, "length", "n", 1024, "bytes to test")
	cmd.AddCommand(test)
	return cmd
}

func (a *app) dacCmd() *cobra.Command {
	var name, model string
	cmd := &cobra.Command{Use: "dac", Short: "MCP49x2 dual DAC"}
	cmd.PersistentFlags().StringVarP(&name, "device", "d", "", "device name (default the first mcp49x2)")
	set := &cobra.Command{
		Use:   "set a|b volts",
		Short: "Set one output in volts against the board vref",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var ch mcp49x2.Channel
			switch strings.ToLower(args[0]) {
			case "a":
				ch = mcp49x2.A
			case "b":
				ch = mcp49x2.B
			default:
				return &errcode.E{C: errcode.InvalidParams, Op: "dac set", Msg: "channel " + args[0]}
			}
			v, err := strconv.ParseFloat(args[1], 32)
			if err != nil {
				return &errcode.E{C: errcode.InvalidParams, Op: "dac set", Err: err}
			}
			d, err := a.device("mcp49x2", name)
			if err != nil {
				return err
			}
			dac, err := a.dacFor(d, strings.ToLower(model))
			if err != nil {
				return err
			}
			if err := dac.SetVoltage(ch, float32(v), float32(d.VRef)); err != nil {
				return err
			}
			a.log.Info().Str("channel", args[0]).Float64("volts", v).Uint16("code", dac.Value(ch)).Msg("output set")
			return nil
		},
	}
	set.Flags().StringVar(&model, "model", "mcp4922", "mcp4902, mcp4912 or mcp4922")
	cmd.AddCommand(set)
	return cmd
}

// parseOffset accepts decimal or 0x hex.
func parseOffset(s string, size int) (int64, error) {
	off, err := strconv.ParseInt(s, 0, 64)
	if err != nil || off < 0 || off >= int64(size) {
		return 0, &errcode.E{C: errcode.InvalidAddress, Op: "periphctl", Msg: "offset " + s}
	}
	return off, nil
}

func parseData(s string, text bool) ([]byte, error) {
	if text {
		return []byte(s), nil
	}
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil || len(b) == 0 {
		return nil, &errcode.E{C: errcode.InvalidParams, Op: "periphctl", Msg: "data is not hex: " + s, Err: err}
	}
	return b, nil
}

// hexDump prints 16 bytes a line with device addresses in the margin.
func hexDump(w io.Writer, b []byte, base int64) error {
	var line bytes.Buffer
	for i := 0; i < len(b); i += 16 {
		end := min(i+16, len(b))
		line.Reset()
		fmt.Fprintf(&line, "%04x  ", base+int64(i))
		for j := i; j < i+16; j++ {
			if j < end {
				fmt.Fprintf(&line, "%02x ", b[j])
			} else {
				line.WriteString("   ")
			}
		}
		line.WriteString(" |")
		for _, c := range b[i:end] {
			if c < 0x20 || c > 0x7e {
				c = '.'
			}
			line.WriteByte(c)
		}
		line.WriteString("|\n")
		if _, err := w.Write(line.Bytes()); err != nil {
			return err
		}
	}
	return nil
}
