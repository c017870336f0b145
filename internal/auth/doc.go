// Package auth は単一の管理者資格情報によるログインとBearerトークンの発行・検証を行う。
//
// トークンはHS256で署名したJWTで、サーバー側には保存しない。
// 検証は署名と有効期限のみで判定するため、期限前の失効はできない。
package auth
