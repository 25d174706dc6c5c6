package migrations

import (
	"fmt"

	"gorm.io/gorm"
)

// normalizeOHLCVSymbols rewrites candle symbols stored as BASE_QUOTE into the
// exchange pair form BASEQUOTE that tick readers query by. Rows that would
// collide with an already normalized candle are dropped first.
func normalizeOHLCVSymbols(tx *gorm.DB) error {
	for _, table := range []string{"ohlcv_crypto_1m", "ohlcv_crypto_1h"} {
		if !tx.Migrator().HasTable(table) {
			continue
		}

		dedupe := fmt.Sprintf(`DELETE FROM %[1]s WHERE symbol LIKE '%%\_%%' ESCAPE '\' AND EXISTS (
			SELECT 1 FROM %[1]s n WHERE n.symbol = REPLACE(%[1]s.symbol, '_', '') AND n.datetime = %[1]s.datetime)`, table)
		if err := tx.Exec(dedupe).Error; err != nil {
			return fmt.Errorf("dedupe %s: %w", table, err)
		}

		rename := fmt.Sprintf(`UPDATE %s SET symbol = REPLACE(symbol, '_', '') WHERE symbol LIKE '%%\_%%' ESCAPE '\'`, table)
		if err := tx.Exec(rename).Error; err != nil {
			return fmt.Errorf("normalize %s: %w", table, err)
		}
	}
	return nil
}
