package registry

// ABI fragments used across the vault accessor, protocol adapters and the
// custody pipeline.
const (
	ERC20ABI = `[
		{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"allowance","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"approve","type":"function","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
		{"name":"transfer","type":"function","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
		{"name":"decimals","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
		{"type":"event","name":"Transfer","anonymous":false,"inputs":[{"name":"from","type":"address","indexed":true},{"name":"to","type":"address","indexed":true},{"name":"value","type":"uint256","indexed":false}]}
	]`

	VaultFactoryABI = `[
		{"name":"vaultFor","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"address"}]},
		{"name":"createVault","type":"function","stateMutability":"nonpayable","inputs":[{"name":"owner","type":"address"},{"name":"agent","type":"address"}],"outputs":[{"name":"","type":"address"}]},
		{"type":"event","name":"VaultCreated","anonymous":false,"inputs":[{"name":"owner","type":"address","indexed":true},{"name":"vault","type":"address","indexed":true},{"name":"agent","type":"address","indexed":false}]}
	]`

	VaultABI = `[
		{"name":"owner","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
		{"name":"roles","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"grantRoles","type":"function","stateMutability":"nonpayable","inputs":[{"name":"account","type":"address"},{"name":"roleMask","type":"uint256"}],"outputs":[]},
		{"name":"withdraw","type":"function","stateMutability":"nonpayable","inputs":[{"name":"token","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]},
		{"name":"deposit","type":"function","stateMutability":"nonpayable","inputs":[{"name":"token","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]}
	]`

	// ERC-4626 subset used by the lending silo adapter.
	SiloABI = `[
		{"name":"asset","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
		{"name":"deposit","type":"function","stateMutability":"nonpayable","inputs":[{"name":"assets","type":"uint256"},{"name":"receiver","type":"address"}],"outputs":[{"name":"shares","type":"uint256"}]},
		{"name":"redeem","type":"function","stateMutability":"nonpayable","inputs":[{"name":"shares","type":"uint256"},{"name":"receiver","type":"address"},{"name":"owner","type":"address"}],"outputs":[{"name":"assets","type":"uint256"}]},
		{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"previewRedeem","type":"function","stateMutability":"view","inputs":[{"name":"shares","type":"uint256"}],"outputs":[{"name":"assets","type":"uint256"}]}
	]`

	// Sonic liquid staking (stS). deposit is payable and mints stS against
	// the sent native value.
	StakingABI = `[
		{"name":"deposit","type":"function","stateMutability":"payable","inputs":[],"outputs":[{"name":"sharesAmount","type":"uint256"}]},
		{"name":"undelegate","type":"function","stateMutability":"nonpayable","inputs":[{"name":"validatorId","type":"uint256"},{"name":"amountShares","type":"uint256"}],"outputs":[{"name":"withdrawId","type":"uint256"}]},
		{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"convertToAssets","type":"function","stateMutability":"view","inputs":[{"name":"sharesAmount","type":"uint256"}],"outputs":[{"name":"assetsAmount","type":"uint256"}]}
	]`

	// Wrapped native token (wS): canonical WETH9 shape.
	WrappedNativeABI = `[
		{"name":"deposit","type":"function","stateMutability":"payable","inputs":[],"outputs":[]},
		{"name":"withdraw","type":"function","stateMutability":"nonpayable","inputs":[{"name":"amount","type":"uint256"}],"outputs":[]},
		{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
	]`
)
