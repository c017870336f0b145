// Package filter は濾心カートリッジのレコードストアを提供する。
//
// Store インターフェースの背後に、JSONファイル・SQLite・Redisの3つの
// バックエンドを持つ。どのバックエンドも Initialize で保存先を用意し、
// 空であれば2件の初期データを投入する。保存先が壊れていた場合はログに
// 記録したうえで初期データに戻す。
package filter
