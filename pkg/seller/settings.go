package seller

import (
	"context"
	"fmt"

	"github.com/tlguszz1010/Pixel-Pay/pkg/store"
)

// Setting keys consulted when the environment leaves a contract unset.
const (
	SettingTokenAddress = "pxpay_token_address"
	SettingRewardAmount = "pxpay_reward_per_purchase"
	SettingNFTAddress   = "nft_contract_address"
)

// ResolveSetting returns override when set, otherwise the stored value for
// key. An unset value yields "".
func ResolveSetting(ctx context.Context, settings store.Settings, key, override string) (string, error) {
	if override != "" {
		return override, nil
	}
	value, ok, err := settings.GetSetting(ctx, key)
	if err != nil {
		return "", fmt.Errorf("failed to read setting %s: %w", key, err)
	}
	if !ok {
		return "", nil
	}
	return value, nil
}
