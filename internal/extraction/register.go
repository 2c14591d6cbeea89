package extraction

import "github.com/JonMunkholm/colextract/internal/history"

func init() {
	history.RegisterKind(Kind, func(payload []byte) (history.Change, error) {
		c, err := DecodeChange(payload)
		if err != nil {
			return nil, err
		}
		return c.Detached(), nil
	})
}
