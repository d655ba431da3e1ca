/*
包 speech 接入本机语音服务：piper HTTP 合成与 whisper HTTP 识别，
并提供单声道 PCM16 WAV 的编解码。

# 核心接口

  - TTSProvider / PiperTTSProvider：POST {text, length_scale, voice}，返回 WAV
  - STTProvider / WhisperSTTProvider：multipart file + language，返回
    {text, language, language_probability}
  - RetryPolicy：低置信度且无语言偏好时以基础语言重试一次
  - Waveform / DecodeWAV / EncodeWAV / WriteWAV：基于 go-audio 的波形读写
*/
package speech
