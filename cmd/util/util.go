package util

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/willowdb/willow/lib/codec"
	"github.com/willowdb/willow/lib/store"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// SetupDatabaseFlags adds the common database flags to a command
func SetupDatabaseFlags(cmd *cobra.Command) {
	key := "db"
	cmd.PersistentFlags().String(key, "willow.db", WrapString("Path of the database file"))

	key = "meta-codec"
	cmd.PersistentFlags().String(key, "gob", WrapString("Codec for record metadata (gob, plist, timestamp)"))
}

// InitConfig initializes configuration from environment variables
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("willow")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// GetCodec creates a codec based on its configured name
func GetCodec(name string) (codec.ICodec, error) {
	switch name {
	case "gob":
		return codec.NewGobCodec(), nil
	case "plist":
		return codec.NewPropertyListCodec(), nil
	case "timestamp":
		return codec.NewTimestampCodec(), nil
	default:
		return nil, fmt.Errorf("invalid codec %s", name)
	}
}

// OpenDatabase opens the configured database file
func OpenDatabase() (*store.Database[store.PlainKey], error) {
	objectCodec, err := GetCodec(viper.GetString("codec"))
	if err != nil {
		return nil, err
	}
	metaCodec, err := GetCodec(viper.GetString("meta-codec"))
	if err != nil {
		return nil, err
	}

	opts := store.DefaultOptions()
	opts.ObjectCodec = objectCodec
	opts.MetadataCodec = metaCodec

	return store.Open[store.PlainKey](viper.GetString("db"), opts)
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}
