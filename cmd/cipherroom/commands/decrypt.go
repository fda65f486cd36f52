package commands

import (
	"bufio"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"cipherroom/internal/domain"
)

// decryptResult is one output line of decrypt.
type decryptResult struct {
	*domain.DecryptedMessage
	Line  int    `json:"line,omitempty"`
	Error string `json:"error,omitempty"`
	Kind  string `json:"kind,omitempty"`
}

// decryptCmd reads EncryptedMessage JSON lines from stdin and prints one
// result line per input line, in order.
func decryptCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "decrypt",
		Short: "Decrypt room messages read as JSON lines from stdin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				msgs    []domain.EncryptedMessage
				lines   []int
				results []decryptResult
			)
			sc := bufio.NewScanner(cmd.InOrStdin())
			sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
			n := 0
			for sc.Scan() {
				n++
				text := strings.TrimSpace(sc.Text())
				if text == "" {
					continue
				}
				var m domain.EncryptedMessage
				if err := json.Unmarshal([]byte(text), &m); err != nil {
					results = append(results, decryptResult{
						Line:  n,
						Error: errors.Wrap(err, "decode line").Error(),
						Kind:  domain.KindMalformedCiphertext.String(),
					})
					continue
				}
				msgs = append(msgs, m)
				lines = append(lines, n)
				results = append(results, decryptResult{Line: n})
			}
			if err := sc.Err(); err != nil {
				return errors.Wrap(err, "read stdin")
			}

			decrypted := e.wire().Messages.DecryptBatch(cmd.Context(), msgs)
			byLine := make(map[int]domain.Result[domain.DecryptedMessage], len(decrypted))
			for i, r := range decrypted {
				byLine[lines[i]] = r
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, res := range results {
				if r, ok := byLine[res.Line]; ok {
					if r.IsOk() {
						dm := r.Value
						res.DecryptedMessage = &dm
					} else {
						res.Error = r.Err.Error()
						res.Kind = domain.KindOf(r.Err).String()
					}
				}
				if err := enc.Encode(res); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
